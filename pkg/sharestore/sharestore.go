// Package sharestore issues and validates public share tokens: creation
// with optional password protection and expiry, token resolution,
// constant-time password verification, permission updates, and access
// accounting, persisted as a single atomically-replaced JSON array.
package sharestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-password/password"

	"github.com/lpyedge/oxicloud/internal/log"
	"github.com/lpyedge/oxicloud/pkg/errtypes"
	"github.com/lpyedge/oxicloud/pkg/model"
)

// tokenLength is the number of URL-safe characters per token. 26
// characters over a 62-symbol alphabet carry ~154 bits of entropy.
const tokenLength = 26

// ItemResolver is the slice of FolderStore/FileStore (via Coordinator)
// ShareStore needs: whether a target item currently exists, and whether
// it sits in the trash. ShareStore never resolves paths itself.
type ItemResolver interface {
	ItemLive(itemID string, itemType model.ItemType) bool
	ItemTrashed(itemID string) bool
}

// CreateRequest carries the caller-supplied fields of a new share.
type CreateRequest struct {
	ItemID      string
	ItemType    model.ItemType
	Password    string     // empty: no password protection
	ExpiresAt   *time.Time // nil: never expires
	Permissions *model.SharePermissions
}

// UpdateRequest patches an existing share. Nil fields are left
// untouched; the token never changes.
type UpdateRequest struct {
	Password    *string // non-nil empty string removes the password
	ExpiresAt   *time.Time
	ClearExpiry bool
	Permissions *model.SharePermissions
}

// Options configures Open.
type Options struct {
	// FolderWriteShares permits write=true on folder shares.
	FolderWriteShares bool
	// Debounce is the coalescing window before a dirty index is flushed.
	Debounce time.Duration
	Logger   *zerolog.Logger
}

// Store is ShareStore.
type Store struct {
	items     ItemResolver
	indexFile string
	writable  bool
	debounce  time.Duration
	log       *zerolog.Logger

	mu             sync.Mutex
	byID           map[string]*model.Share
	byToken        map[string]*model.Share
	failedAttempts map[string]int64
	timer          *time.Timer
}

// Open loads (or initializes) {storage_root}/.shares/shares.json. On an
// unparsable index the store starts empty; shares are advisory state and
// the items they point at remain intact.
func Open(root string, items ItemResolver, opts Options) (*Store, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New("sharestore", nil, "prod")
	}

	s := &Store{
		items:          items,
		indexFile:      filepath.Join(root, ".shares", "shares.json"),
		writable:       opts.FolderWriteShares,
		debounce:       opts.Debounce,
		log:            logger,
		byID:           map[string]*model.Share{},
		byToken:        map[string]*model.Share{},
		failedAttempts: map[string]int64{},
	}

	data, err := os.ReadFile(s.indexFile)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errtypes.IOError{Msg: "read share index", Err: err}
	}
	var shares []model.Share
	if err := json.Unmarshal(data, &shares); err != nil {
		log.Event(context.TODO(), logger, zerolog.WarnLevel).Err(err).Msg("share index corrupted, starting empty")
		return s, nil
	}
	for i := range shares {
		sh := &shares[i]
		s.byID[sh.ID] = sh
		s.byToken[sh.Token] = sh
	}
	return s, nil
}

// Create issues a new share for req.ItemID on behalf of userID. The
// target must currently be live; permissions default to read-only.
func (s *Store) Create(userID string, req CreateRequest) (model.Share, error) {
	if !s.items.ItemLive(req.ItemID, req.ItemType) {
		return model.Share{}, errtypes.NotFound(req.ItemID)
	}

	perms := model.SharePermissions{Read: true}
	if req.Permissions != nil {
		perms = *req.Permissions
	}
	if !perms.Valid() {
		return model.Share{}, errtypes.InvariantViolation("share permissions require read access")
	}
	if perms.Write && req.ItemType == model.ItemFolder && !s.writable {
		return model.Share{}, errtypes.InvariantViolation("writable folder shares are disabled")
	}

	var hash string
	if req.Password != "" {
		var err error
		hash, err = argon2id.CreateHash(req.Password, argon2id.DefaultParams)
		if err != nil {
			return model.Share{}, errtypes.IOError{Msg: "hash share password", Err: err}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.newTokenLocked()
	if err != nil {
		return model.Share{}, err
	}

	sh := &model.Share{
		ID:            uuid.NewString(),
		Token:         token,
		ItemID:        req.ItemID,
		ItemType:      req.ItemType,
		PasswordHash:  hash,
		ExpiresAt:     req.ExpiresAt,
		Permissions:   perms,
		CreatedAt:     time.Now(),
		CreatedByUser: userID,
	}
	s.byID[sh.ID] = sh
	s.byToken[sh.Token] = sh
	s.armLocked()
	return *sh, nil
}

// newTokenLocked generates a fresh unguessable token, retrying the
// astronomically unlikely collision with an existing one. Callers must
// hold s.mu.
func (s *Store) newTokenLocked() (string, error) {
	for i := 0; i < 3; i++ {
		tok, err := password.Generate(tokenLength, 6, 0, false, true)
		if err != nil {
			return "", errtypes.IOError{Msg: "generate share token", Err: err}
		}
		if _, taken := s.byToken[tok]; !taken {
			return tok, nil
		}
	}
	return "", errtypes.Conflict("share token space exhausted")
}

// ResolveByToken looks up token and checks its gate conditions: a share
// past its expiry yields Expired, a password-protected one yields
// PasswordRequired (callers verify via VerifyPassword first).
func (s *Store) ResolveByToken(token string) (model.Share, error) {
	s.mu.Lock()
	sh, ok := s.byToken[token]
	s.mu.Unlock()
	if !ok {
		return model.Share{}, errtypes.NotFound("share token")
	}
	if sh.ExpiresAt != nil && time.Now().After(*sh.ExpiresAt) {
		return model.Share{}, errtypes.Expired(sh.ID)
	}
	if sh.PasswordHash != "" {
		return model.Share{}, errtypes.PasswordRequired(sh.ID)
	}
	return *sh, nil
}

// VerifyPassword checks pass against token's stored hash. Comparison is
// constant-time inside argon2id. Failed attempts are counted so an
// external rate limiter can consult FailedAttempts.
func (s *Store) VerifyPassword(token, pass string) (bool, error) {
	s.mu.Lock()
	sh, ok := s.byToken[token]
	s.mu.Unlock()
	if !ok {
		return false, errtypes.NotFound("share token")
	}
	if sh.ExpiresAt != nil && time.Now().After(*sh.ExpiresAt) {
		return false, errtypes.Expired(sh.ID)
	}
	if sh.PasswordHash == "" {
		return true, nil
	}

	match, err := argon2id.ComparePasswordAndHash(pass, sh.PasswordHash)
	if err != nil {
		return false, errtypes.IOError{Msg: "verify share password", Err: err}
	}
	if !match {
		s.mu.Lock()
		s.failedAttempts[token]++
		s.mu.Unlock()
	}
	return match, nil
}

// FailedAttempts reports how many wrong passwords have been presented
// for token since process start.
func (s *Store) FailedAttempts(token string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failedAttempts[token]
}

// Get returns the share with the given id.
func (s *Store) Get(id string) (model.Share, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.byID[id]
	if !ok {
		return model.Share{}, errtypes.NotFound(id)
	}
	return *sh, nil
}

// Update patches id's password, expiry, or permissions in place. The
// token is preserved.
func (s *Store) Update(id string, patch UpdateRequest) (model.Share, error) {
	var hash *string
	if patch.Password != nil {
		h := ""
		if *patch.Password != "" {
			var err error
			h, err = argon2id.CreateHash(*patch.Password, argon2id.DefaultParams)
			if err != nil {
				return model.Share{}, errtypes.IOError{Msg: "hash share password", Err: err}
			}
		}
		hash = &h
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.byID[id]
	if !ok {
		return model.Share{}, errtypes.NotFound(id)
	}
	if patch.Permissions != nil {
		if !patch.Permissions.Valid() {
			return model.Share{}, errtypes.InvariantViolation("share permissions require read access")
		}
		if patch.Permissions.Write && sh.ItemType == model.ItemFolder && !s.writable {
			return model.Share{}, errtypes.InvariantViolation("writable folder shares are disabled")
		}
		sh.Permissions = *patch.Permissions
	}
	if hash != nil {
		sh.PasswordHash = *hash
	}
	if patch.ClearExpiry {
		sh.ExpiresAt = nil
	} else if patch.ExpiresAt != nil {
		sh.ExpiresAt = patch.ExpiresAt
	}
	s.armLocked()
	return *sh, nil
}

// Delete removes the share with the given id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.byID[id]
	if !ok {
		return errtypes.NotFound(id)
	}
	delete(s.byID, id)
	delete(s.byToken, sh.Token)
	s.armLocked()
	return nil
}

// DeleteForItem removes every share pointing at itemID, used when the
// item is purged from trash.
func (s *Store) DeleteForItem(itemID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sh := range s.byID {
		if sh.ItemID == itemID {
			delete(s.byID, id)
			delete(s.byToken, sh.Token)
			removed++
		}
	}
	if removed > 0 {
		s.armLocked()
	}
	return removed
}

// ListForItem returns every share pointing at itemID, newest first.
func (s *Store) ListForItem(itemID string, itemType model.ItemType) []model.Share {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Share
	for _, sh := range s.byID {
		if sh.ItemID == itemID && sh.ItemType == itemType {
			out = append(out, *sh)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ListForUser returns the page-th page (1-based) of userID's shares,
// newest first, along with the total count.
func (s *Store) ListForUser(userID string, page, perPage int) ([]model.Share, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	s.mu.Lock()
	var all []model.Share
	for _, sh := range s.byID {
		if sh.CreatedByUser == userID {
			all = append(all, *sh)
		}
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	start := (page - 1) * perPage
	if start >= total {
		return nil, total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return all[start:end], total
}

// RegisterAccess counts one successful access through token. It fails
// closed: an expired share or a trashed target registers nothing.
func (s *Store) RegisterAccess(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.byToken[token]
	if !ok {
		return errtypes.NotFound("share token")
	}
	if sh.ExpiresAt != nil && time.Now().After(*sh.ExpiresAt) {
		return errtypes.Expired(sh.ID)
	}
	if s.items.ItemTrashed(sh.ItemID) {
		return errtypes.NotFound(sh.ItemID)
	}
	sh.AccessCount++
	s.armLocked()
	return nil
}

// PurgeExpired drops every share past its expiry as of now, returning
// how many were removed. Run from the same background sweep as trash
// retention.
func (s *Store) PurgeExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sh := range s.byID {
		if sh.ExpiresAt != nil && now.After(*sh.ExpiresAt) {
			delete(s.byID, id)
			delete(s.byToken, sh.Token)
			removed++
		}
	}
	if removed > 0 {
		s.armLocked()
	}
	return removed
}

// armLocked (re)starts the debounce timer. Callers must hold s.mu.
func (s *Store) armLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		if err := s.Flush(); err != nil {
			log.Event(context.Background(), s.log, zerolog.ErrorLevel).
				Err(err).Msg("debounced share index flush failed")
		}
	})
}

// Flush writes the current share set to disk immediately. Called on
// shutdown to force a final snapshot.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	shares := make([]model.Share, 0, len(s.byID))
	for _, sh := range s.byID {
		shares = append(shares, *sh)
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].CreatedAt.Before(shares[j].CreatedAt) })

	data, err := json.Marshal(shares)
	if err != nil {
		return errtypes.IOError{Msg: "marshal share index", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(s.indexFile), 0o755); err != nil {
		return errtypes.IOError{Msg: "create share index directory", Err: err}
	}
	if err := renameio.WriteFile(s.indexFile, data, 0o600); err != nil {
		return errtypes.IOError{Msg: "write share index", Err: err}
	}
	return nil
}
