package gormstore

import "github.com/google/uuid"

func newRecordID() string { return uuid.New().String() }

func newTxID() string { return uuid.New().String() }
