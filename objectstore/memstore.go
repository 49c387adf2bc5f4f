package objectstore

import (
	"github.com/go-git/go-git/v5/storage"
	"github.com/go-git/go-git/v5/storage/memory"
)

func newMemoryStorage() storage.Storer {
	return memory.NewStorage()
}
