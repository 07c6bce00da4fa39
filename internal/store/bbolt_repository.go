package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"autoboard/internal/types"
)

var (
	bucketProjects = []byte("projects")
	bucketCards    = []byte("cards")
	bucketCardLogs = []byte("card_logs")
	bucketAutoMode = []byte("auto_mode_settings")
)

type bboltRepository struct {
	db       *bolt.DB
	projects ProjectStore
	cards    CardStore
	logs     CardLogStore
	autoMode AutoModeSettingsStore
}

func NewBboltRepository(path string) (Repository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := initBboltSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bboltRepository{
		db:       db,
		projects: &bboltProjectStore{db: db},
		cards:    &bboltCardStore{db: db},
		logs:     &bboltCardLogStore{db: db},
		autoMode: &bboltAutoModeStore{db: db},
	}, nil
}

func (r *bboltRepository) Projects() ProjectStore {
	return r.projects
}

func (r *bboltRepository) Cards() CardStore {
	return r.cards
}

func (r *bboltRepository) CardLogs() CardLogStore {
	return r.logs
}

func (r *bboltRepository) AutoMode() AutoModeSettingsStore {
	return r.autoMode
}

func (r *bboltRepository) Backend() string {
	return RepositoryBackendBbolt
}

func (r *bboltRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func initBboltSchema(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketProjects, bucketCards, bucketCardLogs, bucketAutoMode} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func putJSON(b *bolt.Bucket, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func sequenceKey(sequence int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(sequence))
	return key
}

// deleteCardTx removes a card and its log bucket.
func deleteCardTx(tx *bolt.Tx, cardID string) error {
	if err := tx.Bucket(bucketCards).Delete([]byte(cardID)); err != nil {
		return err
	}
	logs := tx.Bucket(bucketCardLogs)
	if logs.Bucket([]byte(cardID)) == nil {
		return nil
	}
	return logs.DeleteBucket([]byte(cardID))
}

type bboltProjectStore struct {
	db *bolt.DB
}

func (s *bboltProjectStore) List(ctx context.Context) ([]*types.Project, error) {
	out := make([]*types.Project, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).ForEach(func(_, v []byte) error {
			var project types.Project
			if err := json.Unmarshal(v, &project); err != nil {
				return err
			}
			out = append(out, &project)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *bboltProjectStore) Get(ctx context.Context, id string) (*types.Project, bool, error) {
	var out *types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketProjects).Get([]byte(id))
		if data == nil {
			return nil
		}
		var project types.Project
		if err := json.Unmarshal(data, &project); err != nil {
			return err
		}
		out = &project
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func (s *bboltProjectStore) Create(ctx context.Context, project *types.Project) (*types.Project, error) {
	if err := validateProject(project); err != nil {
		return nil, err
	}
	out := cloneProject(project)
	if strings.TrimSpace(out.ID) == "" {
		out.ID = newID()
	}
	now := time.Now().UTC()
	out.CreatedAt = now
	out.UpdatedAt = now
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		if b.Get([]byte(out.ID)) != nil {
			return invalid("project already exists: " + out.ID)
		}
		return putJSON(b, out.ID, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *bboltProjectStore) Update(ctx context.Context, id string, patch types.ProjectPatch) (*types.Project, error) {
	var out *types.Project
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var project types.Project
		if err := json.Unmarshal(data, &project); err != nil {
			return err
		}
		if patch.Name != nil {
			project.Name = *patch.Name
		}
		if patch.Path != nil {
			project.Path = *patch.Path
		}
		if err := validateProject(&project); err != nil {
			return err
		}
		project.UpdatedAt = time.Now().UTC()
		out = &project
		return putJSON(b, project.ID, &project)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *bboltProjectStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		projects := tx.Bucket(bucketProjects)
		if projects.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		var cardIDs []string
		err := tx.Bucket(bucketCards).ForEach(func(k, v []byte) error {
			var card types.Card
			if err := json.Unmarshal(v, &card); err != nil {
				return err
			}
			if card.ProjectID == id {
				cardIDs = append(cardIDs, string(k))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, cardID := range cardIDs {
			if err := deleteCardTx(tx, cardID); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketAutoMode).Delete([]byte(id)); err != nil {
			return err
		}
		return projects.Delete([]byte(id))
	})
}

type bboltCardStore struct {
	db *bolt.DB
}

func (s *bboltCardStore) List(ctx context.Context, filter CardFilter) ([]*types.Card, error) {
	out := make([]*types.Card, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCards).ForEach(func(_, v []byte) error {
			var card types.Card
			if err := json.Unmarshal(v, &card); err != nil {
				return err
			}
			if matchesFilter(&card, filter) {
				out = append(out, &card)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *bboltCardStore) Get(ctx context.Context, id string) (*types.Card, bool, error) {
	var out *types.Card
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCards).Get([]byte(id))
		if data == nil {
			return nil
		}
		var card types.Card
		if err := json.Unmarshal(data, &card); err != nil {
			return err
		}
		out = &card
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func (s *bboltCardStore) Create(ctx context.Context, card *types.Card) (*types.Card, error) {
	out := cloneCard(card)
	if err := validateCard(out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" {
		out.ID = newID()
	}
	now := time.Now().UTC()
	out.CreatedAt = now
	out.UpdatedAt = now
	err := s.db.Update(func(tx *bolt.Tx) error {
		if out.ProjectID != "" && tx.Bucket(bucketProjects).Get([]byte(out.ProjectID)) == nil {
			return invalid("project not found: " + out.ProjectID)
		}
		b := tx.Bucket(bucketCards)
		if b.Get([]byte(out.ID)) != nil {
			return invalid("card already exists: " + out.ID)
		}
		position := 0
		err := b.ForEach(func(_, v []byte) error {
			var existing types.Card
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.ProjectID == out.ProjectID && existing.ColumnID == out.ColumnID && existing.Position >= position {
				position = existing.Position + 1
			}
			return nil
		})
		if err != nil {
			return err
		}
		out.Position = position
		return putJSON(b, out.ID, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *bboltCardStore) Update(ctx context.Context, id string, patch types.CardPatch) (*types.Card, error) {
	var out *types.Card
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCards)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var card types.Card
		if err := json.Unmarshal(data, &card); err != nil {
			return err
		}
		patch.Apply(&card)
		if err := validateCard(&card); err != nil {
			return err
		}
		if patch.ProjectID != nil && card.ProjectID != "" && tx.Bucket(bucketProjects).Get([]byte(card.ProjectID)) == nil {
			return invalid("project not found: " + card.ProjectID)
		}
		card.UpdatedAt = time.Now().UTC()
		out = &card
		return putJSON(b, card.ID, &card)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *bboltCardStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketCards).Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return deleteCardTx(tx, id)
	})
}

// bboltCardLogStore keeps one nested bucket per card keyed by the
// big-endian sequence, so cursor order is sequence order.
type bboltCardLogStore struct {
	db *bolt.DB
}

func (s *bboltCardLogStore) CreateLog(ctx context.Context, record *types.CardLog) (*types.CardLog, error) {
	if err := validateLog(record); err != nil {
		return nil, err
	}
	out := *record
	if strings.TrimSpace(out.ID) == "" {
		out.ID = newID()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketCards).Get([]byte(out.CardID)) == nil {
			return ErrNotFound
		}
		b, err := tx.Bucket(bucketCardLogs).CreateBucketIfNotExists([]byte(out.CardID))
		if err != nil {
			return err
		}
		key := sequenceKey(out.Sequence)
		if b.Get(key) != nil {
			return ErrDuplicateSequence
		}
		data, err := json.Marshal(&out)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *bboltCardLogStore) ListByCard(ctx context.Context, cardID string) ([]*types.CardLog, error) {
	return s.ListAfterSequence(ctx, cardID, 0)
}

func (s *bboltCardLogStore) ListAfterSequence(ctx context.Context, cardID string, after int64) ([]*types.CardLog, error) {
	out := make([]*types.CardLog, 0)
	if after < 0 {
		after = 0
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCardLogs).Bucket([]byte(cardID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(sequenceKey(after + 1)); k != nil; k, v = c.Next() {
			var record types.CardLog
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			out = append(out, &record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *bboltCardLogStore) MaxSequence(ctx context.Context, cardID string) (int64, error) {
	var max int64
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCardLogs).Bucket([]byte(cardID))
		if b == nil {
			return nil
		}
		k, _ := b.Cursor().Last()
		if k != nil {
			max = int64(binary.BigEndian.Uint64(k))
		}
		return nil
	})
	return max, err
}

type bboltAutoModeStore struct {
	db *bolt.DB
}

func (s *bboltAutoModeStore) Get(ctx context.Context, projectID string) (*types.AutoModeSettings, bool, error) {
	var out *types.AutoModeSettings
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAutoMode).Get([]byte(projectID))
		if data == nil {
			return nil
		}
		var settings types.AutoModeSettings
		if err := json.Unmarshal(data, &settings); err != nil {
			return err
		}
		out = &settings
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func (s *bboltAutoModeStore) Upsert(ctx context.Context, settings *types.AutoModeSettings) (*types.AutoModeSettings, error) {
	if err := validateSettings(settings); err != nil {
		return nil, err
	}
	out := cloneSettings(settings)
	out.UpdatedAt = time.Now().UTC()
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketProjects).Get([]byte(out.ProjectID)) == nil {
			return ErrNotFound
		}
		return putJSON(tx.Bucket(bucketAutoMode), out.ProjectID, out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *bboltAutoModeStore) ListEnabled(ctx context.Context) ([]*types.AutoModeSettings, error) {
	out := make([]*types.AutoModeSettings, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAutoMode).ForEach(func(_, v []byte) error {
			var settings types.AutoModeSettings
			if err := json.Unmarshal(v, &settings); err != nil {
				return err
			}
			if settings.Enabled {
				out = append(out, &settings)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *bboltAutoModeStore) Delete(ctx context.Context, projectID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAutoMode).Delete([]byte(projectID))
	})
}
