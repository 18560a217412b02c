// Package model holds the entity types shared across every store
// package. Keeping them in one leaf package (imported by, never
// importing, any store) keeps the folder tree and the share-to-item
// back-reference free of pointer cycles: every cross-entity link is an
// id, never a pointer.
package model

import "time"

// ItemType tags whether an id names a File or a Folder. The values are
// string-tagged ("file"/"folder") for wire compatibility.
type ItemType string

const (
	ItemFile   ItemType = "file"
	ItemFolder ItemType = "folder"
)

// Folder is one directory of the logical tree. ParentID is empty for a
// home folder.
type Folder struct {
	ID         string
	Name       string
	ParentID   string
	CreatedAt  time.Time
	ModifiedAt time.Time
	OwnerUserID string
}

// File is one stored file's metadata.
type File struct {
	ID          string
	Name        string
	FolderID    string
	SizeBytes   int64
	MimeType    string
	CreatedAt   time.Time
	ModifiedAt  time.Time
	OwnerUserID string
}

// Child is one entry of a folder listing, combining files and folders.
type Child struct {
	ID     string
	Name   string
	Type   ItemType
	Size   int64 // 0 for folders
}

// TrashEntry records one soft-deleted item.
type TrashEntry struct {
	ID                string    `json:"id"`
	OriginalID        string    `json:"original_id"`
	ItemType          ItemType  `json:"item_type"`
	OriginalParentID  string    `json:"original_parent_id"` // may be empty: parent no longer exists
	OriginalName      string    `json:"original_name"`
	DeletedAt         time.Time `json:"deleted_at"`
	OwnerUserID       string    `json:"owner_user_id"`
	RetentionDeadline time.Time `json:"retention_deadline"`
}

// SharePermissions is a share's permission bit set.
type SharePermissions struct {
	Read    bool `json:"read"`
	Write   bool `json:"write"`
	Reshare bool `json:"reshare"`
}

// Valid enforces the permission invariants: read is always required,
// and write/reshare imply read.
func (p SharePermissions) Valid() bool {
	if !p.Read {
		return false
	}
	return true
}

// Share is one public share link. Token is never logged in full by any
// component in this module.
type Share struct {
	ID            string           `json:"id"`
	Token         string           `json:"token"`
	ItemID        string           `json:"item_id"`
	ItemType      ItemType         `json:"item_type"`
	PasswordHash  string           `json:"password_hash,omitempty"` // empty if unprotected
	ExpiresAt     *time.Time       `json:"expires_at,omitempty"`
	Permissions   SharePermissions `json:"permissions"`
	CreatedAt     time.Time        `json:"created_at"`
	CreatedByUser string           `json:"created_by_user"`
	AccessCount   int64            `json:"access_count"`
}
