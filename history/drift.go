package history

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/schemaplan/schemaplan/schema"
)

// SchemaDrift means the live database's structure does not match what the
// recorded history reconstructs: something changed the database outside
// the migration flow. Planning must not proceed until an operator
// acknowledges it.
type SchemaDrift struct {
	RecordedDigest string
	LiveDigest     string
}

func (e *SchemaDrift) Error() string {
	return fmt.Sprintf("schema drift: history reconstructs %s but live database is %s",
		short(e.RecordedDigest), short(e.LiveDigest))
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}

// CheckDrift compares the history-reconstructed model against a snapshot
// of the live database's actual structure, via canonical serialization.
func CheckDrift(ctx context.Context, store Store, live *schema.Model) error {
	recorded, err := LatestAppliedModel(ctx, store)
	if err != nil {
		return err
	}
	rec := schema.Serialize(recorded)
	liv := schema.Serialize(live)
	if !bytes.Equal(rec, liv) {
		return &SchemaDrift{
			RecordedDigest: fmt.Sprintf("%x", sha256.Sum256(rec)),
			LiveDigest:     fmt.Sprintf("%x", sha256.Sum256(liv)),
		}
	}
	return nil
}
