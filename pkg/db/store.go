package db

import (
	"context"
	"fmt"

	"git.srvlab.io/whiskey/arraysync/pkg/model"
)

// Store groups the entity tables
type Store struct {
	*DB

	Storages     *Table[model.Storage]
	AccessInfos  *Table[model.AccessInfo]
	AlertSources *Table[model.AlertSource]
	Pools        *Table[model.StoragePool]
	Volumes      *Table[model.Volume]
	Disks        *Table[model.Disk]
	Filesystems  *Table[model.Filesystem]
}

// NewStore wraps db with one table per entity
func NewStore(db *DB) *Store {
	return &Store{
		DB:           db,
		Storages:     NewTable[model.Storage](db, TableStorages),
		AccessInfos:  NewTable[model.AccessInfo](db, TableAccessInfos),
		AlertSources: NewTable[model.AlertSource](db, TableAlertSources),
		Pools:        NewTable[model.StoragePool](db, TablePools),
		Volumes:      NewTable[model.Volume](db, TableVolumes),
		Disks:        NewTable[model.Disk](db, TableDisks),
		Filesystems:  NewTable[model.Filesystem](db, TableFilesystems),
	}
}

// OpenStore opens the database at path and wraps it in a Store
func OpenStore(path string) (*Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return NewStore(db), nil
}

// AccessInfoFor returns the access info of storageID
func (s *Store) AccessInfoFor(ctx context.Context, storageID string) (model.AccessInfo, error) {
	infos, err := s.AccessInfos.GetAll(ctx, Query{Filters: map[string]any{"storage_id": storageID}})
	if err != nil {
		return model.AccessInfo{}, err
	}
	if len(infos) == 0 {
		return model.AccessInfo{}, fmt.Errorf("access info of storage %s: %w", storageID, ErrNotFound)
	}
	return infos[0], nil
}

// AlertSourceForHost returns the alert source registered for a trap sender
func (s *Store) AlertSourceForHost(ctx context.Context, host string) (model.AlertSource, error) {
	sources, err := s.AlertSources.GetAll(ctx, Query{Filters: map[string]any{"host": host}})
	if err != nil {
		return model.AlertSource{}, err
	}
	if len(sources) == 0 {
		return model.AlertSource{}, fmt.Errorf("alert source for host %s: %w", host, ErrNotFound)
	}
	return sources[0], nil
}

// DeleteStorage removes a storage and every record that belongs to it
func (s *Store) DeleteStorage(ctx context.Context, storageID string) error {
	for _, table := range []string{TablePools, TableVolumes, TableDisks, TableFilesystems, TableAccessInfos, TableAlertSources} {
		if _, err := s.conn.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE storage_id = ?", table), storageID); err != nil {
			return fmt.Errorf("failed to delete %s of storage %s: %w", table, storageID, err)
		}
	}
	return s.Storages.Delete(ctx, storageID)
}
