package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	backendQdrant = "qdrant"

	payloadContent = "content"
	payloadID      = "id"
)

var qdrantTracer = otel.Tracer("docqa.vectorstore.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334), not the HTTP port.
	Port int

	APIKey string
	UseTLS bool

	// Collection is created on first write with the dimension of that batch.
	Collection string

	// Distance is the similarity metric. Default: Cosine.
	Distance qdrant.Distance

	// MaxRetries bounds retries of transient failures. Default: 3.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per retry. Default: 1s.
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size. Default: 50MB.
	MaxMessageSize int

	// CircuitBreakerThreshold is the number of failures before opening the circuit. Default: 5.
	CircuitBreakerThreshold int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "docqa_documents"
	}
	if c.Distance == qdrant.Distance_UnknownDistance {
		c.Distance = qdrant.Distance_Cosine
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return ValidateCollectionName(c.Collection)
}

// IsTransientError reports whether err is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore implements Store on Qdrant's native gRPC API.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger

	// ready is set once the collection is known to exist.
	mu    sync.Mutex
	ready bool

	circuitBreaker struct {
		failures int
		lastFail time.Time
		mu       sync.Mutex
	}
}

// NewQdrantStore connects to Qdrant and verifies the server is healthy.
func NewQdrantStore(config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", config.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &QdrantStore{client: client, config: config, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.healthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	logger.Info("qdrant store initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection))

	return store, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *QdrantStore) healthCheck(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.HealthCheck")
	defer span.End()

	if _, err := s.client.HealthCheck(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("health check failed: %w", err)
	}
	span.SetStatus(codes.Ok, "healthy")
	return nil
}

// retryOperation retries transient failures with exponential backoff.
func (s *QdrantStore) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			s.resetCircuitBreaker()
			return nil
		}
		if s.isCircuitOpen() {
			return fmt.Errorf("%s: circuit breaker open", operationName)
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}
		s.recordFailure()

		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, s.config.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (s *QdrantStore) recordFailure() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures++
	s.circuitBreaker.lastFail = time.Now()
}

func (s *QdrantStore) resetCircuitBreaker() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures = 0
}

func (s *QdrantStore) isCircuitOpen() bool {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()

	if s.circuitBreaker.failures >= s.config.CircuitBreakerThreshold {
		// half-open after 30s
		if time.Since(s.circuitBreaker.lastFail) > 30*time.Second {
			s.circuitBreaker.failures = 0
			return false
		}
		return true
	}
	return false
}

// collectionExists checks the server, caching a positive answer.
func (s *QdrantStore) collectionExists(ctx context.Context) (bool, error) {
	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()
	if ready {
		return true, nil
	}

	var exists bool
	err := s.retryOperation(ctx, "collection_exists", func() error {
		var err error
		exists, err = s.client.CollectionExists(ctx, s.config.Collection)
		return err
	})
	if err != nil {
		return false, err
	}
	if exists {
		s.mu.Lock()
		s.ready = true
		s.mu.Unlock()
	}
	return exists, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, dim int) error {
	exists, err := s.collectionExists(ctx)
	if err != nil || exists {
		return err
	}

	err = s.retryOperation(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: s.config.Distance,
			}),
		})
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}

	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	s.logger.Info("created qdrant collection",
		zap.String("collection", s.config.Collection),
		zap.Int("vector_size", dim))
	return nil
}

// AddDocuments upserts docs, creating the collection on first use.
func (s *QdrantStore) AddDocuments(ctx context.Context, docs []Document) (err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.AddDocuments")
	defer span.End()
	defer func(start time.Time) { recordOperation(backendQdrant, "add", start, err) }(time.Now())

	span.SetAttributes(
		attribute.Int("document_count", len(docs)),
		attribute.String("collection", s.config.Collection),
	)

	dim, err := validateDocuments(docs)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if err = s.ensureCollection(ctx, dim); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, d := range docs {
		points[i] = &qdrant.PointStruct{
			Id:      pointID(d.ID),
			Vectors: qdrant.NewVectors(d.Embedding...),
			Payload: toPayload(d),
		}
	}

	err = s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting points to collection %s: %w", s.config.Collection, err)
	}

	DocumentsAdded.WithLabelValues(backendQdrant).Add(float64(len(docs)))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search returns the k nearest points.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, k int) (results []SearchResult, err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Search")
	defer span.End()
	defer func(start time.Time) { recordOperation(backendQdrant, "search", start, err) }(time.Now())

	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	const maxK = 10000
	if k > maxK {
		k = maxK
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty")
	}

	exists, err := s.collectionExists(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !exists {
		return []SearchResult{}, nil
	}

	var points []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", s.config.Collection, err)
	}

	results = make([]SearchResult, len(points))
	for i, p := range points {
		results[i] = fromScoredPoint(p)
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// Count returns the exact number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (n int, err error) {
	defer func(start time.Time) { recordOperation(backendQdrant, "count", start, err) }(time.Now())

	exists, err := s.collectionExists(ctx)
	if err != nil || !exists {
		return 0, err
	}

	var count uint64
	err = s.retryOperation(ctx, "count", func() error {
		var err error
		count, err = s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.config.Collection,
			Exact:          qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("counting collection %s: %w", s.config.Collection, err)
	}
	return int(count), nil
}

// pointID maps a document ID onto a Qdrant UUID. Non-UUID IDs are hashed so
// the mapping is stable; the original ID is kept in the payload.
func pointID(id string) *qdrant.PointId {
	if _, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(id)
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String())
}

func toPayload(d Document) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(d.Metadata)+2)
	for k, v := range d.Metadata {
		payload[k] = qdrant.NewValueString(v)
	}
	payload[payloadContent] = qdrant.NewValueString(d.Content)
	payload[payloadID] = qdrant.NewValueString(d.ID)
	return payload
}

func fromScoredPoint(p *qdrant.ScoredPoint) SearchResult {
	r := SearchResult{Score: p.GetScore(), Metadata: make(map[string]string)}
	for k, v := range p.GetPayload() {
		var s string
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			s = val.StringValue
		case *qdrant.Value_IntegerValue:
			s = fmt.Sprintf("%d", val.IntegerValue)
		case *qdrant.Value_DoubleValue:
			s = fmt.Sprintf("%g", val.DoubleValue)
		case *qdrant.Value_BoolValue:
			s = fmt.Sprintf("%t", val.BoolValue)
		default:
			continue
		}
		switch k {
		case payloadContent:
			r.Content = s
		case payloadID:
			r.ID = s
		default:
			r.Metadata[k] = s
		}
	}
	return r
}
