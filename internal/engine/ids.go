package engine

import "github.com/google/uuid"

func newRunID() string { return uuid.NewString() }

func newTaskID() string { return uuid.NewString() }
