package nomussync

import (
	"context"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/letmesee/nomus_sync_backend/config"
)

// record is any canonical model addressable by its ERP-side id.
type record interface {
	NaturalKey() int64
}

type UpsertStats struct {
	Created int
	Updated int
	Skipped int
}

func (s *UpsertStats) add(o UpsertStats) {
	s.Created += o.Created
	s.Updated += o.Updated
	s.Skipped += o.Skipped
}

func (s UpsertStats) Total() int { return s.Created + s.Updated }

// RecordUpserter persists one resource type. Implementations replay the same
// input to the same end state.
type RecordUpserter[T record] interface {
	UpsertBatch(ctx context.Context, records []T) (UpsertStats, error)
}

// skipFunc is called for each record dropped on a key conflict, with the
// record's natural key and the driver error.
type skipFunc func(externalId int64, err error)

type gormUpserter[T record] struct {
	db        *gorm.DB
	resource  string
	batchSize int
	onSkip    skipFunc
	logger    *logrus.Logger
}

func newGormUpserter[T record](db *gorm.DB, resource string, batchSize int, onSkip skipFunc) *gormUpserter[T] {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &gormUpserter[T]{
		db:        db,
		resource:  resource,
		batchSize: batchSize,
		onSkip:    onSkip,
		logger:    config.GetLogger(),
	}
}

// UpsertBatch writes records in batches, one transaction per batch. Each
// record is looked up by external id and either created or fully replaced;
// duplicate-key conflicts inside a batch are logged and skipped so one bad
// record never sinks its batch.
func (u *gormUpserter[T]) UpsertBatch(ctx context.Context, records []T) (UpsertStats, error) {
	var stats UpsertStats
	for start := 0; start < len(records); start += u.batchSize {
		end := start + u.batchSize
		if end > len(records) {
			end = len(records)
		}
		batchStats, err := u.upsertOne(ctx, records[start:end])
		stats.add(batchStats)
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (u *gormUpserter[T]) upsertOne(ctx context.Context, batch []T) (UpsertStats, error) {
	var stats UpsertStats
	// Fresh session per batch so tracked changes from one batch never bleed
	// into the next.
	session := u.db.WithContext(ctx).Session(&gorm.Session{NewDB: true})
	err := session.Transaction(func(tx *gorm.DB) error {
		for i := range batch {
			rec := batch[i]
			key := rec.NaturalKey()

			var existing T
			lookupErr := tx.Model(new(T)).Where("external_id = ?", key).Take(&existing).Error
			switch {
			case errors.Is(lookupErr, gorm.ErrRecordNotFound):
				if err := tx.Create(&rec).Error; err != nil {
					if isDuplicateKey(err) {
						u.skip(key, err)
						stats.Skipped++
						continue
					}
					return err
				}
				stats.Created++
			case lookupErr != nil:
				return lookupErr
			default:
				err := tx.Model(&existing).
					Select("*").
					Omit("id", "created_at").
					Updates(&rec).Error
				if err != nil {
					if isDuplicateKey(err) {
						u.skip(key, err)
						stats.Skipped++
						continue
					}
					return err
				}
				stats.Updated++
			}
		}
		return nil
	})
	return stats, err
}

func (u *gormUpserter[T]) skip(key int64, err error) {
	u.logger.WithFields(logrus.Fields{
		"resource":    u.resource,
		"external_id": key,
	}).Warn("duplicate key, record skipped: " + err.Error())
	if u.onSkip != nil {
		u.onSkip(key, err)
	}
}

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
