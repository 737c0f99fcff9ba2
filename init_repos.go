package main

import (
	"database/sql"

	"github.com/serofero/server/repository"
)

// Repositories groups the repository instances handed to services.
type Repositories struct {
	User       repository.UserRepository
	Friendship repository.FriendshipRepository
	Block      repository.BlockRepository
	Message    repository.MessageRepository
	MessageTx  repository.MessageTx
}

func initRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		User:       repository.NewSQLiteUserRepo(db),
		Friendship: repository.NewSQLiteFriendshipRepo(db),
		Block:      repository.NewSQLiteBlockRepo(db),
		Message:    repository.NewSQLiteMessageRepo(db),
		MessageTx:  repository.NewSQLiteMessageTx(db),
	}
}
