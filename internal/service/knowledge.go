package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/easeaico/guild-memory-agent/internal/memory"
)

// mergeStripes is the number of locks guarding knowledge merges.
const mergeStripes = 64

// ErrKnowledgeTooLong is returned for manual submissions above the configured length.
var ErrKnowledgeTooLong = errors.New("knowledge text is too long")

// ErrEmptyKnowledge is returned for blank manual submissions.
var ErrEmptyKnowledge = errors.New("knowledge text is empty")

// mergeEntry applies the upsert rule to an existing entry: confidence only
// rises, a manual source is never downgraded, and the newest submission owns
// addedBy and createdAt.
func mergeEntry(existing memory.KnowledgeEntry, confidence float64, source, addedBy string, now time.Time) memory.KnowledgeEntry {
	merged := existing
	merged.Confidence = max(existing.Confidence, confidence)
	if existing.Source == memory.SourceManual || source == memory.SourceManual {
		merged.Source = memory.SourceManual
	} else {
		merged.Source = memory.SourceLearned
	}
	merged.AddedBy = addedBy
	merged.CreatedAt = now
	return merged
}

// Merger folds new facts into a guild's knowledge base without creating
// normalized duplicates.
type Merger struct {
	store  memory.Store
	locks  [mergeStripes]sync.Mutex
	now    func() time.Time
	tracer trace.Tracer
}

// NewMerger creates a merger over store.
func NewMerger(store memory.Store) *Merger {
	return &Merger{store: store, now: time.Now, tracer: tracer()}
}

// Merge inserts text or merges it into the entry with the same normalized
// text. Lookup and write run under a lock striped by (guild, normalized text);
// a lost race against another process is retried once as an update.
func (m *Merger) Merge(ctx context.Context, guildID, addedBy, text string, confidence float64, source string) (memory.KnowledgeEntry, error) {
	ctx, span := m.tracer.Start(ctx, "knowledge.merge")
	defer span.End()
	span.SetAttributes(attribute.String("source", source), attribute.Float64("confidence", confidence))

	norm := memory.NormalizeText(text)
	confidence = min(1.0, max(0.0, confidence))

	mu := m.lockFor(guildID, norm)
	mu.Lock()
	defer mu.Unlock()

	entry, err := m.upsert(ctx, guildID, addedBy, text, norm, confidence, source)
	if errors.Is(err, memory.ErrDuplicateKnowledge) {
		entry, err = m.upsert(ctx, guildID, addedBy, text, norm, confidence, source)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "merge failed")
		return memory.KnowledgeEntry{}, err
	}
	span.SetAttributes(attribute.Int64("knowledge_id", entry.ID))
	return entry, nil
}

func (m *Merger) upsert(ctx context.Context, guildID, addedBy, text, norm string, confidence float64, source string) (memory.KnowledgeEntry, error) {
	now := m.now()

	existing, found, err := m.store.FindKnowledge(ctx, guildID, norm)
	if err != nil {
		return memory.KnowledgeEntry{}, fmt.Errorf("failed to look up knowledge: %w", err)
	}

	if found {
		merged := mergeEntry(existing, confidence, source, addedBy, now)
		if err := m.store.UpdateKnowledge(ctx, merged); err != nil {
			return memory.KnowledgeEntry{}, fmt.Errorf("failed to merge knowledge: %w", err)
		}
		return merged, nil
	}

	entry := memory.KnowledgeEntry{
		GuildID:    guildID,
		Text:       text,
		Confidence: confidence,
		Source:     source,
		AddedBy:    addedBy,
		CreatedAt:  now,
	}
	id, err := m.store.InsertKnowledge(ctx, entry)
	if err != nil {
		if errors.Is(err, memory.ErrDuplicateKnowledge) {
			return memory.KnowledgeEntry{}, err
		}
		return memory.KnowledgeEntry{}, fmt.Errorf("failed to insert knowledge: %w", err)
	}
	entry.ID = id
	return entry, nil
}

func (m *Merger) lockFor(guildID, norm string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(guildID))
	h.Write([]byte{0})
	h.Write([]byte(norm))
	return &m.locks[h.Sum32()%mergeStripes]
}
