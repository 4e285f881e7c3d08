package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoRequestsCollection = "collection_requests"
	mongoAgentsCollection   = "agents"
	mongoAuditCollection    = "audit_events"
	mongoAuditHeadID        = "audit_head"
	mongoAuditAppendRetries = 8
)

type MongoStore struct {
	client   *mongo.Client
	requests *mongo.Collection
	agents   *mongo.Collection
	audits   *mongo.Collection
	timeout  time.Duration
}

type geoJSONPoint struct {
	Type        string    `bson:"type"`
	Coordinates []float64 `bson:"coordinates"`
}

type requestDoc struct {
	ID              string        `bson:"_id"`
	RequesterID     string        `bson:"requesterId"`
	ContactName     string        `bson:"contactName"`
	ContactPhone    string        `bson:"contactPhone"`
	Address         string        `bson:"address"`
	PickupAt        time.Time     `bson:"pickupAt"`
	Category        string        `bson:"category"`
	Subtype         string        `bson:"subtype"`
	Quantity        int           `bson:"quantity"`
	Location        *geoJSONPoint `bson:"location,omitempty"`
	Status          string        `bson:"status"`
	AssignedAgentID *string       `bson:"assignedAgentId"`
	Version         int64         `bson:"version"`
	ProofURI        string        `bson:"proofUri"`
	CancelReason    string        `bson:"cancelReason"`
	CancelledBy     string        `bson:"cancelledBy"`
	CreatedAt       time.Time     `bson:"createdAt"`
	UpdatedAt       time.Time     `bson:"updatedAt"`
	AcceptedAt      *time.Time    `bson:"acceptedAt,omitempty"`
	CompletedAt     *time.Time    `bson:"completedAt,omitempty"`
	CancelledAt     *time.Time    `bson:"cancelledAt,omitempty"`
}

type agentDoc struct {
	ID       string        `bson:"_id"`
	Location *geoJSONPoint `bson:"location,omitempty"`
	Status   string        `bson:"status"`
	LastSeen *time.Time    `bson:"lastSeen,omitempty"`
}

type auditDoc struct {
	ID        int64     `bson:"_id"`
	Action    string    `bson:"action"`
	Actor     string    `bson:"actor"`
	ActorRole string    `bson:"actorRole"`
	RequestID string    `bson:"requestId"`
	Result    string    `bson:"result"`
	Details   string    `bson:"details"`
	PrevHash  string    `bson:"prevHash"`
	EventHash string    `bson:"eventHash"`
	CreatedAt time.Time `bson:"createdAt"`
}

type auditHeadDoc struct {
	ID   string `bson:"_id"`
	Seq  int64  `bson:"seq"`
	Hash string `bson:"hash"`
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if database == "" {
		database = "digitaldump"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(database)
	s := &MongoStore{
		client:   client,
		requests: db.Collection(mongoRequestsCollection),
		agents:   db.Collection(mongoAgentsCollection),
		audits:   db.Collection(mongoAuditCollection),
		timeout:  5 * time.Second,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.requests.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "assignedAgentId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "assignedAgentId", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "requesterId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "location", Value: "2dsphere"}}},
	})
	if err != nil {
		return fmt.Errorf("create request indexes: %w", err)
	}
	_, err = s.audits.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "requestId", Value: 1}, {Key: "_id", Value: -1}}})
	if err != nil {
		return fmt.Errorf("create audit indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) CreateRequest(ctx context.Context, req RequestRecord) error {
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = req.CreatedAt
	_, err := s.requests.InsertOne(ctx, toRequestDoc(req))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("request %s already exists", req.ID)
	}
	return err
}

func (s *MongoStore) GetRequest(ctx context.Context, requestID string) (RequestRecord, bool, error) {
	var doc requestDoc
	err := s.requests.FindOne(ctx, bson.M{"_id": requestID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return RequestRecord{}, false, nil
	}
	if err != nil {
		return RequestRecord{}, false, err
	}
	return doc.record(), true, nil
}

// UpdateIfMatch is one FindOneAndUpdate: the filter carries the match fields,
// so the server evaluates and applies them atomically on the single document.
func (s *MongoStore) UpdateIfMatch(ctx context.Context, t Transition) (RequestRecord, bool, error) {
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	at = at.UTC()

	filter := bson.M{"_id": t.RequestID}
	if len(t.FromStatus) > 0 {
		filter["status"] = bson.M{"$in": t.FromStatus}
	}
	if t.RequireUnassigned {
		filter["assignedAgentId"] = nil
	}
	if t.RequireAgentID != "" {
		filter["assignedAgentId"] = t.RequireAgentID
	}
	if t.RequireRequesterID != "" {
		filter["requesterId"] = t.RequireRequesterID
	}

	set := bson.M{"status": t.ToStatus, "updatedAt": at}
	if t.ClearAgent {
		set["assignedAgentId"] = nil
	}
	if t.SetAgentID != "" {
		set["assignedAgentId"] = t.SetAgentID
	}
	if t.ProofURI != "" {
		set["proofUri"] = t.ProofURI
	}
	switch t.ToStatus {
	case StatusAccepted:
		set["acceptedAt"] = at
	case StatusCompleted:
		set["completedAt"] = at
	case StatusCancelled:
		set["cancelledAt"] = at
		set["cancelReason"] = t.CancelReason
		set["cancelledBy"] = t.CancelledBy
	}
	update := bson.M{"$set": set, "$inc": bson.M{"version": 1}}

	var doc requestDoc
	err := s.requests.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return RequestRecord{}, false, nil
	}
	if err != nil {
		return RequestRecord{}, false, err
	}
	return doc.record(), true, nil
}

func (s *MongoStore) ListClaimable(ctx context.Context, q CandidateQuery) ([]RequestRecord, error) {
	filter := bson.M{"status": StatusPending, "assignedAgentId": nil}
	if q.Box != nil {
		filter["location.coordinates.0"] = bson.M{"$gte": q.Box.MinLng, "$lte": q.Box.MaxLng}
		filter["location.coordinates.1"] = bson.M{"$gte": q.Box.MinLat, "$lte": q.Box.MaxLat}
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return s.findRequests(ctx, filter, opts)
}

func (s *MongoStore) ListByAgent(ctx context.Context, agentID, status string) ([]RequestRecord, error) {
	filter := bson.M{"assignedAgentId": agentID}
	if status != "" {
		filter["status"] = status
	}
	opts := options.Find().SetSort(bson.D{{Key: "acceptedAt", Value: 1}, {Key: "_id", Value: 1}})
	return s.findRequests(ctx, filter, opts)
}

func (s *MongoStore) ListByRequester(ctx context.Context, requesterID string) ([]RequestRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
	return s.findRequests(ctx, bson.M{"requesterId": requesterID}, opts)
}

func (s *MongoStore) findRequests(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]RequestRecord, error) {
	cur, err := s.requests.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := make([]RequestRecord, 0, 16)
	for cur.Next(ctx) {
		var doc requestDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.record())
	}
	return out, cur.Err()
}

func (s *MongoStore) UpdateAgentLocation(ctx context.Context, agentID string, loc GeoPoint, seen time.Time) error {
	seen = seen.UTC()
	_, err := s.agents.UpdateOne(ctx, bson.M{"_id": agentID}, bson.M{
		"$set":         bson.M{"location": toGeoJSON(&loc), "lastSeen": seen},
		"$setOnInsert": bson.M{"status": AgentActive},
	}, options.Update().SetUpsert(true))
	return err
}

func (s *MongoStore) SetAgentStatus(ctx context.Context, agentID, status string) error {
	_, err := s.agents.UpdateOne(ctx, bson.M{"_id": agentID}, bson.M{
		"$set": bson.M{"status": status},
	}, options.Update().SetUpsert(true))
	return err
}

func (s *MongoStore) GetAgent(ctx context.Context, agentID string) (AgentRecord, bool, error) {
	var doc agentDoc
	err := s.agents.FindOne(ctx, bson.M{"_id": agentID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return AgentRecord{}, false, nil
	}
	if err != nil {
		return AgentRecord{}, false, err
	}
	a := AgentRecord{ID: doc.ID, Location: fromGeoJSON(doc.Location), Status: doc.Status}
	if doc.LastSeen != nil {
		a.LastSeen = doc.LastSeen.UTC()
	}
	return a, true, nil
}

// AppendAuditEvent writes the event under the next sequence number and only
// then moves the head. A head left behind by an interrupted append is
// advanced by the next appender before it picks a sequence number.
func (s *MongoStore) AppendAuditEvent(ctx context.Context, event AuditEventRecord) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	event.CreatedAt = event.CreatedAt.UTC().Truncate(time.Millisecond)
	return appendChained(ctx, mongoAuditLog{coll: s.audits}, event)
}

// auditLog is the pair of documents a chained append touches: numbered event
// documents and a head that trails the newest of them.
type auditLog interface {
	head(ctx context.Context) (seq int64, hash string, err error)
	event(ctx context.Context, seq int64) (auditDoc, bool, error)
	// insert reports false when seq is already taken.
	insert(ctx context.Context, doc auditDoc) (bool, error)
	advance(ctx context.Context, from, to int64, hash string) error
}

func appendChained(ctx context.Context, chain auditLog, event AuditEventRecord) error {
	for attempt := 0; attempt < mongoAuditAppendRetries; attempt++ {
		seq, hash, err := chain.head(ctx)
		if err != nil {
			return err
		}
		orphan, found, err := chain.event(ctx, seq+1)
		if err != nil {
			return err
		}
		if found {
			if err := chain.advance(ctx, seq, orphan.ID, orphan.EventHash); err != nil {
				return err
			}
			continue
		}
		event.ID = seq + 1
		event.PrevHash = hash
		event.EventHash = computeAuditHash(event)
		inserted, err := chain.insert(ctx, toAuditDoc(event))
		if err != nil {
			return err
		}
		if !inserted {
			continue
		}
		// The event is durable. If the head cannot be moved now the next
		// append finds the event past the head and moves it instead.
		_ = chain.advance(ctx, seq, event.ID, event.EventHash)
		return nil
	}
	return fmt.Errorf("append audit event: sequence taken %d times", mongoAuditAppendRetries)
}

type mongoAuditLog struct {
	coll *mongo.Collection
}

func (l mongoAuditLog) head(ctx context.Context) (int64, string, error) {
	var head auditHeadDoc
	err := l.coll.FindOne(ctx, bson.M{"_id": mongoAuditHeadID}).Decode(&head)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", err
	}
	return head.Seq, head.Hash, nil
}

func (l mongoAuditLog) event(ctx context.Context, seq int64) (auditDoc, bool, error) {
	var doc auditDoc
	err := l.coll.FindOne(ctx, bson.M{"_id": seq}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return auditDoc{}, false, nil
	}
	if err != nil {
		return auditDoc{}, false, err
	}
	return doc, true, nil
}

func (l mongoAuditLog) insert(ctx context.Context, doc auditDoc) (bool, error) {
	_, err := l.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	return err == nil, err
}

// advance is a compare-and-swap on the head's sequence; losing the race to
// another appender is not an error.
func (l mongoAuditLog) advance(ctx context.Context, from, to int64, hash string) error {
	_, err := l.coll.UpdateOne(ctx,
		bson.M{"_id": mongoAuditHeadID, "seq": from},
		bson.M{"$set": bson.M{"seq": to, "hash": hash}},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func toAuditDoc(e AuditEventRecord) auditDoc {
	return auditDoc{
		ID:        e.ID,
		Action:    e.Action,
		Actor:     e.Actor,
		ActorRole: e.ActorRole,
		RequestID: e.RequestID,
		Result:    e.Result,
		Details:   e.Details,
		PrevHash:  e.PrevHash,
		EventHash: e.EventHash,
		CreatedAt: e.CreatedAt,
	}
}

func (s *MongoStore) ListAuditEvents(ctx context.Context, query AuditQuery) ([]AuditEventRecord, error) {
	query = normalizeAuditQuery(query)
	filter := bson.M{"_id": bson.M{"$type": "long"}}
	if query.Action != "" {
		filter["action"] = query.Action
	}
	if query.Actor != "" {
		filter["actor"] = query.Actor
	}
	if query.RequestID != "" {
		filter["requestId"] = query.RequestID
	}
	if query.Result != "" {
		filter["result"] = query.Result
	}
	created := bson.M{}
	if !query.From.IsZero() {
		created["$gte"] = query.From.UTC()
	}
	if !query.To.IsZero() {
		created["$lte"] = query.To.UTC()
	}
	if len(created) > 0 {
		filter["createdAt"] = created
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetSkip(int64(query.Offset)).
		SetLimit(int64(query.Limit))
	cur, err := s.audits.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := make([]AuditEventRecord, 0, query.Limit)
	for cur.Next(ctx) {
		var doc auditDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.record())
	}
	return out, cur.Err()
}

func (d auditDoc) record() AuditEventRecord {
	return AuditEventRecord{
		ID:        d.ID,
		Action:    d.Action,
		Actor:     d.Actor,
		ActorRole: d.ActorRole,
		RequestID: d.RequestID,
		Result:    d.Result,
		Details:   d.Details,
		PrevHash:  d.PrevHash,
		EventHash: d.EventHash,
		CreatedAt: d.CreatedAt.UTC(),
	}
}

func toRequestDoc(r RequestRecord) requestDoc {
	doc := requestDoc{
		ID:           r.ID,
		RequesterID:  r.RequesterID,
		ContactName:  r.ContactName,
		ContactPhone: r.ContactPhone,
		Address:      r.Address,
		PickupAt:     r.PickupAt.UTC(),
		Category:     r.Category,
		Subtype:      r.Subtype,
		Quantity:     r.Quantity,
		Location:     toGeoJSON(r.Location),
		Status:       r.Status,
		Version:      r.Version,
		ProofURI:     r.ProofURI,
		CancelReason: r.CancelReason,
		CancelledBy:  r.CancelledBy,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		AcceptedAt:   timePtr(r.AcceptedAt),
		CompletedAt:  timePtr(r.CompletedAt),
		CancelledAt:  timePtr(r.CancelledAt),
	}
	if r.AssignedAgentID != "" {
		agent := r.AssignedAgentID
		doc.AssignedAgentID = &agent
	}
	return doc
}

func (d requestDoc) record() RequestRecord {
	r := RequestRecord{
		ID:           d.ID,
		RequesterID:  d.RequesterID,
		ContactName:  d.ContactName,
		ContactPhone: d.ContactPhone,
		Address:      d.Address,
		PickupAt:     d.PickupAt.UTC(),
		Category:     d.Category,
		Subtype:      d.Subtype,
		Quantity:     d.Quantity,
		Location:     fromGeoJSON(d.Location),
		Status:       d.Status,
		Version:      d.Version,
		ProofURI:     d.ProofURI,
		CancelReason: d.CancelReason,
		CancelledBy:  d.CancelledBy,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
	if d.AssignedAgentID != nil {
		r.AssignedAgentID = *d.AssignedAgentID
	}
	if d.AcceptedAt != nil {
		r.AcceptedAt = d.AcceptedAt.UTC()
	}
	if d.CompletedAt != nil {
		r.CompletedAt = d.CompletedAt.UTC()
	}
	if d.CancelledAt != nil {
		r.CancelledAt = d.CancelledAt.UTC()
	}
	return r
}

// GeoJSON orders coordinates [lng, lat].
func toGeoJSON(p *GeoPoint) *geoJSONPoint {
	if p == nil {
		return nil
	}
	return &geoJSONPoint{Type: "Point", Coordinates: []float64{p.Lng, p.Lat}}
}

func fromGeoJSON(g *geoJSONPoint) *GeoPoint {
	if g == nil || len(g.Coordinates) != 2 {
		return nil
	}
	return &GeoPoint{Lat: g.Coordinates[1], Lng: g.Coordinates[0]}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
