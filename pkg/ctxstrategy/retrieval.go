package ctxstrategy

import (
	"context"
	"fmt"
	"math"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/kadirpekel/agentloom/pkg/llm"
)

// Retrieval is a Strategy variant that indexes every appended message
// into an embedded chromem-go collection and, on Select, returns the
// K most relevant prior turns for the current task alongside the most
// recent KeepRecent turns verbatim — an embedded-vector-store retrieval
// pattern adapted from document-RAG to conversation-turn retrieval.
//
// It owns its index as the one optional cache a Strategy may hold;
// Select/Append otherwise behave as pure functions of their arguments.
type Retrieval struct {
	KeepRecent int
	TopK       int

	mu         sync.Mutex
	db         *chromem.DB
	collection *chromem.Collection
	nextID     int
}

// NewRetrieval builds a Retrieval strategy with an in-memory chromem-go
// database. Persistence is intentionally not wired — the History
// Recorder, not the Context Strategy, owns durable storage.
func NewRetrieval(keepRecent, topK int) (*Retrieval, error) {
	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection("conversation-turns", nil, hashEmbedding)
	if err != nil {
		return nil, fmt.Errorf("ctxstrategy: failed to create chromem collection: %w", err)
	}
	return &Retrieval{KeepRecent: keepRecent, TopK: topK, db: db, collection: col}, nil
}

func (r *Retrieval) Select(history []llm.Message, task string, iteration int) []llm.Message {
	if len(history) <= r.KeepRecent {
		out := make([]llm.Message, len(history))
		copy(out, history)
		return out
	}

	cut := len(history) - r.KeepRecent
	recent := history[cut:]

	r.mu.Lock()
	count := r.collection.Count()
	r.mu.Unlock()

	topK := r.TopK
	if topK > count {
		topK = count
	}

	var retrieved []llm.Message
	if topK > 0 && task != "" {
		results, err := r.collection.Query(context.Background(), task, topK, nil, nil)
		if err == nil {
			retrieved = make([]llm.Message, 0, len(results))
			for _, res := range results {
				retrieved = append(retrieved, llm.Message{Role: llm.RoleSystem, Content: "relevant prior turn: " + res.Content})
			}
		}
	}

	out := make([]llm.Message, 0, len(retrieved)+len(recent))
	out = append(out, retrieved...)
	out = append(out, recent...)
	return out
}

func (r *Retrieval) Append(history []llm.Message, newMessages []llm.Message) []llm.Message {
	r.index(newMessages)
	return dedupeAppend(history, newMessages)
}

func (r *Retrieval) index(messages []llm.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		id := fmt.Sprintf("turn-%d", r.nextID)
		r.nextID++
		doc := chromem.Document{
			ID:       id,
			Content:  m.Content,
			Metadata: map[string]string{"role": string(m.Role)},
		}
		_ = r.collection.AddDocuments(context.Background(), []chromem.Document{doc}, 1)
	}
}

// hashEmbedding is a deterministic, dependency-free stand-in for a real
// embedding model — computing actual embeddings requires an external
// provider, which this engine does not implement.
// It buckets text into a fixed-size vector by character n-gram hashing so
// that chromem's cosine similarity still clusters lexically-similar turns
// together without calling out to any provider.
func hashEmbedding(ctx context.Context, text string) ([]float32, error) {
	const dims = 64
	vec := make([]float32, dims)

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		bucket := (int(runes[i]) + i) % dims
		vec[bucket]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec, nil
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
