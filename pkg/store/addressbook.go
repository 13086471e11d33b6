package store

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"solsync/pkg/models"

	"github.com/cockroachdb/errors"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

var (
	ErrEntryNotFound = errors.New("address book entry not found")
	ErrInvalidEntry  = errors.New("invalid address book entry")
)

// AddressBookRemote is the backend side of the address book.
type AddressBookRemote interface {
	ListAddressBook(ctx context.Context) ([]models.AddressBookEntry, error)
	CreateAddressBookEntry(ctx context.Context, e models.AddressBookEntry) (models.AddressBookEntry, error)
	UpdateAddressBookEntry(ctx context.Context, e models.AddressBookEntry) (models.AddressBookEntry, error)
	DeleteAddressBookEntry(ctx context.Context, id string) error
}

// EntryInput is the user-editable part of an address book entry.
type EntryInput struct {
	Name          string   `json:"name"`
	WalletAddress string   `json:"walletAddress"`
	Description   string   `json:"description,omitempty"`
	Network       string   `json:"network"`
	Tags          []string `json:"tags"`
	IsFavorite    bool     `json:"isFavorite"`
}

// AddressBookStore applies create/update/delete optimistically: the local list
// changes first, then the backend is called, and only the failed change is
// undone if the backend rejects it.
type AddressBookStore struct {
	res    *CachedResource[[]models.AddressBookEntry]
	remote AddressBookRemote
	now    func() time.Time
	logger *slog.Logger
}

func NewAddressBookStore(res *CachedResource[[]models.AddressBookEntry], remote AddressBookRemote, logger *slog.Logger) *AddressBookStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &AddressBookStore{res: res, remote: remote, now: time.Now, logger: logger}
}

func (b *AddressBookStore) Resource() *CachedResource[[]models.AddressBookEntry] { return b.res }

// Remote returns the backend used for mutations; nil in local-only mode.
func (b *AddressBookStore) Remote() AddressBookRemote { return b.remote }

// List returns all entries, favorites first, otherwise in stored order.
func (b *AddressBookStore) List() []models.AddressBookEntry {
	s := b.res.Snapshot()
	if s.Data == nil {
		return nil
	}
	out := make([]models.AddressBookEntry, 0, len(*s.Data))
	for _, e := range *s.Data {
		if e.IsFavorite {
			out = append(out, e)
		}
	}
	for _, e := range *s.Data {
		if !e.IsFavorite {
			out = append(out, e)
		}
	}
	return out
}

// Get returns the entry with id.
func (b *AddressBookStore) Get(id string) (models.AddressBookEntry, bool) {
	s := b.res.Snapshot()
	if s.Data == nil {
		return models.AddressBookEntry{}, false
	}
	for _, e := range *s.Data {
		if e.ID == id {
			return e, true
		}
	}
	return models.AddressBookEntry{}, false
}

func (b *AddressBookStore) Create(ctx context.Context, in EntryInput) (models.AddressBookEntry, error) {
	if err := validateInput(in); err != nil {
		return models.AddressBookEntry{}, err
	}
	now := b.now()
	local := models.AddressBookEntry{
		ID:            uuid.NewString(),
		Name:          strings.TrimSpace(in.Name),
		WalletAddress: strings.TrimSpace(in.WalletAddress),
		Description:   strings.TrimSpace(in.Description),
		Network:       networkOrDefault(in.Network),
		Tags:          NormalizeTags(in.Tags),
		IsFavorite:    in.IsFavorite,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	b.res.Update(ctx, func(cur *[]models.AddressBookEntry) []models.AddressBookEntry {
		return append(cloneEntries(cur), local)
	})
	if b.remote == nil {
		return local, nil
	}

	created, err := b.remote.CreateAddressBookEntry(ctx, local)
	if err != nil {
		b.logger.Warn("addressbook_create_failed", "id", local.ID, "error", err)
		b.res.Update(ctx, func(cur *[]models.AddressBookEntry) []models.AddressBookEntry {
			return removeEntry(cloneEntries(cur), local.ID)
		})
		return models.AddressBookEntry{}, errors.Wrap(err, "create address book entry")
	}
	b.res.Update(ctx, func(cur *[]models.AddressBookEntry) []models.AddressBookEntry {
		return replaceEntry(cloneEntries(cur), local.ID, created)
	})
	return created, nil
}

// Update applies fn to a copy of the entry with id and saves it.
func (b *AddressBookStore) Update(ctx context.Context, id string, fn func(e *models.AddressBookEntry)) (models.AddressBookEntry, error) {
	prev, ok := b.Get(id)
	if !ok {
		return models.AddressBookEntry{}, ErrEntryNotFound
	}
	next := prev
	next.Tags = append([]string(nil), prev.Tags...)
	fn(&next)
	next.ID = prev.ID
	next.CreatedAt = prev.CreatedAt
	next.Name = strings.TrimSpace(next.Name)
	next.WalletAddress = strings.TrimSpace(next.WalletAddress)
	next.Network = networkOrDefault(next.Network)
	next.Tags = NormalizeTags(next.Tags)
	next.UpdatedAt = b.now()
	if err := validateInput(EntryInput{Name: next.Name, WalletAddress: next.WalletAddress}); err != nil {
		return models.AddressBookEntry{}, err
	}

	b.res.Update(ctx, func(cur *[]models.AddressBookEntry) []models.AddressBookEntry {
		return replaceEntry(cloneEntries(cur), id, next)
	})
	if b.remote == nil {
		return next, nil
	}

	saved, err := b.remote.UpdateAddressBookEntry(ctx, next)
	if err != nil {
		b.logger.Warn("addressbook_update_failed", "id", id, "error", err)
		b.res.Update(ctx, func(cur *[]models.AddressBookEntry) []models.AddressBookEntry {
			return replaceEntry(cloneEntries(cur), id, prev)
		})
		return models.AddressBookEntry{}, errors.Wrap(err, "update address book entry")
	}
	b.res.Update(ctx, func(cur *[]models.AddressBookEntry) []models.AddressBookEntry {
		return replaceEntry(cloneEntries(cur), id, saved)
	})
	return saved, nil
}

// ToggleFavorite flips the favorite flag of the entry with id.
func (b *AddressBookStore) ToggleFavorite(ctx context.Context, id string) (models.AddressBookEntry, error) {
	return b.Update(ctx, id, func(e *models.AddressBookEntry) { e.IsFavorite = !e.IsFavorite })
}

func (b *AddressBookStore) Delete(ctx context.Context, id string) error {
	s := b.res.Snapshot()
	idx := -1
	var prev models.AddressBookEntry
	if s.Data != nil {
		for i, e := range *s.Data {
			if e.ID == id {
				idx, prev = i, e
				break
			}
		}
	}
	if idx < 0 {
		return ErrEntryNotFound
	}

	b.res.Update(ctx, func(cur *[]models.AddressBookEntry) []models.AddressBookEntry {
		return removeEntry(cloneEntries(cur), id)
	})
	if b.remote == nil {
		return nil
	}

	if err := b.remote.DeleteAddressBookEntry(ctx, id); err != nil {
		b.logger.Warn("addressbook_delete_failed", "id", id, "error", err)
		b.res.Update(ctx, func(cur *[]models.AddressBookEntry) []models.AddressBookEntry {
			list := cloneEntries(cur)
			at := idx
			if at > len(list) {
				at = len(list)
			}
			list = append(list, models.AddressBookEntry{})
			copy(list[at+1:], list[at:])
			list[at] = prev
			return list
		})
		return errors.Wrap(err, "delete address book entry")
	}
	return nil
}

// NormalizeTags trims, drops empties and removes case-insensitive duplicates,
// keeping the first spelling.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		k := strings.ToLower(t)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	return out
}

func validateInput(in EntryInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return errors.Wrap(ErrInvalidEntry, "name is required")
	}
	if _, err := solana.PublicKeyFromBase58(strings.TrimSpace(in.WalletAddress)); err != nil {
		return errors.Wrapf(ErrInvalidEntry, "wallet address %q: %v", in.WalletAddress, err)
	}
	return nil
}

func networkOrDefault(n string) string {
	n = strings.ToLower(strings.TrimSpace(n))
	if n == "" {
		return "solana"
	}
	return n
}

func cloneEntries(cur *[]models.AddressBookEntry) []models.AddressBookEntry {
	if cur == nil {
		return nil
	}
	return append([]models.AddressBookEntry(nil), (*cur)...)
}

func removeEntry(list []models.AddressBookEntry, id string) []models.AddressBookEntry {
	out := list[:0]
	for _, e := range list {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}

func replaceEntry(list []models.AddressBookEntry, id string, e models.AddressBookEntry) []models.AddressBookEntry {
	for i := range list {
		if list[i].ID == id {
			list[i] = e
			return list
		}
	}
	return list
}
