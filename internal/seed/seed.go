// Package seed loads question pools from a YAML file into the store.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/kiliankoe/vibecheck/internal/game"
	"github.com/kiliankoe/vibecheck/internal/store"
)

var ErrInvalidQuestion = errors.New("invalid question")

const minOptions = 2

// Pools holds one question list per room type.
type Pools map[game.RoomType][]game.Question

// file is the on-disk layout: a list of question records per room type.
// Records accept the same field variants as questions read from the store.
type file map[string][]map[string]any

func LoadFile(path string) (Pools, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read questions file: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (Pools, error) {
	var raw file
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse questions file: %w", err)
	}
	pools := make(Pools, len(raw))
	for key, records := range raw {
		t, err := game.ParseRoomType(key)
		if err != nil {
			return nil, fmt.Errorf("questions file section %q: %w", key, err)
		}
		qs := make([]game.Question, 0, len(records))
		seen := make(map[string]bool, len(records))
		for i, rec := range records {
			q, err := game.NormalizeQuestion(rec, strconv.Itoa(i+1))
			if err != nil {
				return nil, fmt.Errorf("%s #%d: %w", t, i+1, err)
			}
			if len(q.Options) < minOptions {
				return nil, fmt.Errorf("%w: %s #%d has %d options", ErrInvalidQuestion, t, i+1, len(q.Options))
			}
			if seen[q.ID] {
				return nil, fmt.Errorf("%w: %s has duplicate id %s", ErrInvalidQuestion, t, q.ID)
			}
			seen[q.ID] = true
			qs = append(qs, q)
		}
		pools[t] = qs
	}
	return pools, nil
}

// Apply writes every pool to questions/{type}. Existing pools are kept unless
// overwrite is set.
func Apply(ctx context.Context, s store.Store, pools Pools, overwrite bool, logger zerolog.Logger) error {
	for t, qs := range pools {
		path := game.QuestionPoolPath(t)
		if !overwrite {
			_, exists, err := s.Read(ctx, path)
			if err != nil {
				return err
			}
			if exists {
				logger.Debug().Str("path", path).Msg("question pool already present")
				continue
			}
		}
		if err := s.Write(ctx, path, qs); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		logger.Info().Str("path", path).Int("questions", len(qs)).Msg("seeded question pool")
	}
	return nil
}
