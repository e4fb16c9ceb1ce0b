// Package storage provides persistent storage functionality for the WhosFree bot.
// It uses BadgerDB as the embedded database and stores values as JSON documents.
package storage
