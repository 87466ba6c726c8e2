package jsonapi

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// Request is one inbound call into the engine, already split into its
// protocol-independent parts (spec.md §4.9). Transport adapters (HTTP
// routers, etc.) are out of this module's scope; they build a Request and
// render a Response.
type Request struct {
	Operation         Operation
	Resource          string
	ID                string // target record id, when Operation.targetsID()
	RelationshipName  string // set for the five relationship sub-endpoints
	Token             string
	Provider          string
	RawQuery          string
	Body              []byte
	URLPrefixOverride string
}

// Response is the engine's answer: an HTTP status and a document tree ready
// for encoding/json, or nil when the operation has no body (DELETE).
type Response struct {
	Status   int
	Document map[string]any
}

// Executor implements spec.md §4.9 end to end: parse, validate, authenticate,
// authorize, enforce ownership, write, include, assemble, broadcast.
type Executor struct {
	reg          *Registry
	storage      StorageAdapter
	validator    *Validator
	authBuilder  *AuthContextBuilder
	authorizer   *Authorizer
	enforcer     *Enforcer
	relProcessor *RelationshipProcessor
	assembler    *Assembler
	broadcaster  *Broadcaster // nil disables subscription delivery
	log          *zap.SugaredLogger
}

// NewExecutor wires the seven collaborators that make up the request
// pipeline. broadcaster may be nil.
func NewExecutor(reg *Registry, storage StorageAdapter, authBuilder *AuthContextBuilder, broadcaster *Broadcaster) *Executor {
	return &Executor{
		reg:          reg,
		storage:      storage,
		validator:    NewValidator(reg),
		authBuilder:  authBuilder,
		authorizer:   NewAuthorizer(reg),
		enforcer:     NewEnforcer(),
		relProcessor: NewRelationshipProcessor(),
		assembler:    NewAssembler(reg),
		broadcaster:  broadcaster,
		log:          zap.NewNop().Sugar(),
	}
}

// WithLogger attaches a structured logger used for commit/rollback failures.
// Unset, the executor logs nothing.
func (ex *Executor) WithLogger(log *zap.SugaredLogger) *Executor {
	ex.log = log
	return ex
}

// Execute runs one Request through the full pipeline (spec.md §4.9 steps 1-9).
func (ex *Executor) Execute(ctx context.Context, req Request) (*Response, error) {
	auth, err := ex.authBuilder.Build(ctx, req.Token, req.Provider)
	if err != nil {
		return nil, err
	}

	resource, ok := ex.reg.Resource(req.Resource)
	if !ok {
		return nil, ErrNotFound(req.Resource, req.ID)
	}

	qp := ParseQuery(req.RawQuery)
	if err := ex.validator.ValidateQuery(resource, req.Operation, qp); err != nil {
		return nil, err
	}

	if req.Operation.targetsID() {
		if err := ex.validator.ValidateID(req.ID); err != nil {
			return nil, err
		}
	}

	fieldsets := make(map[string][]string, len(qp.Fields))
	for typ, csv := range qp.Fields {
		fieldsets[typ] = SplitFieldset(csv)
	}
	opts := AssembleOptions{Fieldsets: fieldsets, URLPrefix: req.URLPrefixOverride}

	switch req.Operation {
	case OpGet:
		return ex.doGet(ctx, resource, req, qp, auth, opts)
	case OpQuery:
		return ex.doQuery(ctx, resource, req, qp, auth, opts)
	case OpPost:
		return ex.doPost(ctx, resource, req, auth, opts)
	case OpPut, OpPatch:
		return ex.doWrite(ctx, resource, req, auth, opts)
	case OpDelete:
		return ex.doDelete(ctx, resource, req, auth)
	case OpGetRelated:
		return ex.doGetRelated(ctx, resource, req, qp, auth, opts)
	case OpGetRelationships:
		return ex.doGetRelationships(ctx, resource, req, auth)
	case OpPostRelationships, OpPatchRelationships, OpDeleteRelationships:
		return ex.doWriteRelationships(ctx, resource, req, auth)
	default:
		return nil, ErrPayload("operation", "known operation", string(req.Operation))
	}
}

// loadAuthorizedMinimal fetches the minimal record, runs the authorization
// evaluator, then the ownership mask, in the order spec.md §4.9 step 3-4
// fixes: authorize first (so a denied user never learns existence beyond
// what authorization itself reveals), then ownership, which can only ever
// downgrade a result to 404 (spec.md §4.5, §9).
func (ex *Executor) loadAuthorizedMinimal(ctx context.Context, resource *ResourceDefinition, id string, auth AuthContext, op Operation, tx Transaction) (*MinimalRecord, error) {
	minimal, err := ex.storage.GetMinimal(ctx, resource.Name, id, tx)
	if err != nil {
		return nil, err
	}
	if minimal == nil {
		return nil, ErrNotFound(resource.Name, id)
	}
	if err := ex.authorizer.Authorize(ctx, auth, resource, op, minimal, nil); err != nil {
		return nil, err
	}
	if err := ex.enforcer.CheckSingleRecord(resource, auth, minimal); err != nil {
		return nil, err
	}
	return minimal, nil
}

func (ex *Executor) loadIncludes(ctx context.Context, resourceName string, records []Record, qp QueryParams, tx Transaction) (*IncludeResult, error) {
	if len(qp.Include) == 0 {
		return &IncludeResult{Linkage: Linkage{}}, nil
	}
	engine := NewIncludeEngine(ex.reg, ex.storage)
	tree := ParseIncludeTree(qp.Include)
	return engine.Load(ctx, resourceName, records, tree, tx)
}

func (ex *Executor) doGet(ctx context.Context, resource *ResourceDefinition, req Request, qp QueryParams, auth AuthContext, opts AssembleOptions) (*Response, error) {
	if _, err := ex.loadAuthorizedMinimal(ctx, resource, req.ID, auth, OpGet, nil); err != nil {
		return nil, err
	}

	selection := fieldsetFor(qp, resource.Name)
	record, err := ex.storage.Get(ctx, resource.Name, req.ID, selection, nil)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrNotFound(resource.Name, req.ID)
	}

	include, err := ex.loadIncludes(ctx, resource.Name, []Record{*record}, qp, nil)
	if err != nil {
		return nil, err
	}
	opts.Include = include

	return &Response{Status: 200, Document: ex.assembler.AssembleSingle(resource, record, opts)}, nil
}

func (ex *Executor) doQuery(ctx context.Context, resource *ResourceDefinition, req Request, qp QueryParams, auth AuthContext, opts AssembleOptions) (*Response, error) {
	if err := ex.authorizer.Authorize(ctx, auth, resource, OpQuery, nil, nil); err != nil {
		return nil, err
	}

	if field, value, ok := ex.enforcer.CollectionFilter(resource, auth); ok {
		if qp.Filters == nil {
			qp.Filters = map[string]string{}
		}
		qp.Filters[field] = value
	}

	result, err := ex.storage.Query(ctx, resource.Name, qp, nil)
	if err != nil {
		return nil, err
	}

	include, err := ex.loadIncludes(ctx, resource.Name, result.Records, qp, nil)
	if err != nil {
		return nil, err
	}
	opts.Include = include
	opts.PageMeta = result.Meta
	opts.PageLinks = result.Links

	return &Response{Status: 200, Document: ex.assembler.AssembleCollection(resource, result.Records, opts)}, nil
}

func (ex *Executor) doPost(ctx context.Context, resource *ResourceDefinition, req Request, auth AuthContext, opts AssembleOptions) (*Response, error) {
	if err := ex.authorizer.Authorize(ctx, auth, resource, OpPost, nil, nil); err != nil {
		return nil, err
	}

	doc, err := ex.validator.ValidateBody(OpPost, req.Body)
	if err != nil {
		return nil, err
	}

	fkUpdates, pivotOps, err := ex.relProcessor.Process(resource, doc.Data)
	if err != nil {
		return nil, err
	}

	attrs := mergeAttrs(doc.Data.Attributes, fkUpdates)
	attrs = ex.enforcer.ApplyOwnerOnWrite(resource, auth, attrs)

	tx, err := ex.storage.NewTransaction(ctx)
	if err != nil {
		return nil, ErrStorage(err)
	}

	record, err := ex.storage.Post(ctx, resource.Name, attrs, tx)
	if err != nil {
		ex.rollback(ctx, tx)
		return nil, err
	}

	if err := ex.writePivots(ctx, resource, record.ID, pivotOps, false, tx); err != nil {
		ex.rollback(ctx, tx)
		return nil, err
	}

	ex.emit(tx, resource.Name, record.ID, ChangeCreated, OpPost, record.Attributes)
	if err := ex.commit(ctx, tx); err != nil {
		return nil, err
	}

	return &Response{Status: 201, Document: ex.assembler.AssembleSingle(resource, record, opts)}, nil
}

func (ex *Executor) doWrite(ctx context.Context, resource *ResourceDefinition, req Request, auth AuthContext, opts AssembleOptions) (*Response, error) {
	op := OpPatch
	if req.Operation == OpPut {
		op = OpPut
	}

	minimal, err := ex.loadAuthorizedMinimal(ctx, resource, req.ID, auth, op, nil)
	if err != nil {
		return nil, err
	}

	doc, err := ex.validator.ValidateBody(op, req.Body)
	if err != nil {
		return nil, err
	}

	fkUpdates, pivotOps, err := ex.relProcessor.Process(resource, doc.Data)
	if err != nil {
		return nil, err
	}
	attrs := mergeAttrs(doc.Data.Attributes, fkUpdates)

	tx, err := ex.storage.NewTransaction(ctx)
	if err != nil {
		return nil, ErrStorage(err)
	}

	var record *Record
	if op == OpPut {
		record, err = ex.storage.Put(ctx, resource.Name, req.ID, attrs, tx)
	} else {
		record, err = ex.storage.Patch(ctx, resource.Name, req.ID, attrs, tx)
	}
	if err != nil {
		ex.rollback(ctx, tx)
		return nil, err
	}

	if err := ex.writePivots(ctx, resource, req.ID, pivotOps, true, tx); err != nil {
		ex.rollback(ctx, tx)
		return nil, err
	}

	_ = minimal
	ex.emit(tx, resource.Name, req.ID, ChangeUpdated, op, record.Attributes)
	if err := ex.commit(ctx, tx); err != nil {
		return nil, err
	}

	return &Response{Status: 200, Document: ex.assembler.AssembleSingle(resource, record, opts)}, nil
}

func (ex *Executor) doDelete(ctx context.Context, resource *ResourceDefinition, req Request, auth AuthContext) (*Response, error) {
	if _, err := ex.loadAuthorizedMinimal(ctx, resource, req.ID, auth, OpDelete, nil); err != nil {
		return nil, err
	}

	tx, err := ex.storage.NewTransaction(ctx)
	if err != nil {
		return nil, ErrStorage(err)
	}
	if err := ex.storage.Delete(ctx, resource.Name, req.ID, tx); err != nil {
		ex.rollback(ctx, tx)
		return nil, err
	}
	ex.emit(tx, resource.Name, req.ID, ChangeDeleted, OpDelete, nil)
	if err := ex.commit(ctx, tx); err != nil {
		return nil, err
	}

	return &Response{Status: 204}, nil
}

func (ex *Executor) doGetRelated(ctx context.Context, resource *ResourceDefinition, req Request, qp QueryParams, auth AuthContext, opts AssembleOptions) (*Response, error) {
	if _, err := ex.loadAuthorizedMinimal(ctx, resource, req.ID, auth, OpGetRelated, nil); err != nil {
		return nil, err
	}
	spec, ok := resource.relationshipAlias(req.RelationshipName)
	if !ok {
		return nil, ErrValidationViolations(Violation{Path: "relationship", Message: "unknown relationship alias: " + req.RelationshipName})
	}

	record, err := ex.storage.Get(ctx, resource.Name, req.ID, nil, nil)
	if err != nil || record == nil {
		if err == nil {
			err = ErrNotFound(resource.Name, req.ID)
		}
		return nil, err
	}

	include, err := ex.loadIncludes(ctx, resource.Name, []Record{*record}, QueryParams{Include: []string{req.RelationshipName}}, nil)
	if err != nil {
		return nil, err
	}
	opts.Include = include

	targetDef, ok := ex.reg.Resource(relatedTargetName(resource, spec))
	if !ok {
		return nil, ErrNotFound(spec.Target, "")
	}

	switch spec.Kind {
	case RelBelongsTo, RelPolymorphicBelongsTo:
		ids := include.Linkage[req.RelationshipName][req.ID]
		if len(ids) == 0 {
			return &Response{Status: 200, Document: ex.assembler.AssembleSingle(targetDef, nil, opts)}, nil
		}
		related, err := ex.storage.Get(ctx, ids[0].Type, ids[0].ID, nil, nil)
		if err != nil {
			return nil, err
		}
		relDef, _ := ex.reg.Resource(ids[0].Type)
		return &Response{Status: 200, Document: ex.assembler.AssembleSingle(relDef, related, opts)}, nil

	default:
		ids := include.Linkage[req.RelationshipName][req.ID]
		records := make([]Record, 0, len(ids))
		for _, inc := range include.Included {
			for _, id := range ids {
				if inc.Type == id.Type && inc.ID == id.ID {
					records = append(records, Record{ID: inc.ID, Attributes: inc.Attributes})
				}
			}
		}
		return &Response{Status: 200, Document: ex.assembler.AssembleCollection(targetDef, records, opts)}, nil
	}
}

func relatedTargetName(resource *ResourceDefinition, spec RelationshipSpec) string {
	if spec.Target != "" {
		return spec.Target
	}
	return resource.Name
}

func (ex *Executor) doGetRelationships(ctx context.Context, resource *ResourceDefinition, req Request, auth AuthContext) (*Response, error) {
	if _, err := ex.loadAuthorizedMinimal(ctx, resource, req.ID, auth, OpGetRelationships, nil); err != nil {
		return nil, err
	}
	spec, ok := resource.relationshipAlias(req.RelationshipName)
	if !ok {
		return nil, ErrValidationViolations(Violation{Path: "relationship", Message: "unknown relationship alias: " + req.RelationshipName})
	}

	record, err := ex.storage.Get(ctx, resource.Name, req.ID, nil, nil)
	if err != nil || record == nil {
		if err == nil {
			err = ErrNotFound(resource.Name, req.ID)
		}
		return nil, err
	}

	switch spec.Kind {
	case RelBelongsTo:
		if id := stringifyScalar(record.Attributes[spec.ForeignKeyField]); id != "" {
			return &Response{Status: 200, Document: map[string]any{"data": map[string]any{"type": spec.Target, "id": id}}}, nil
		}
		return &Response{Status: 200, Document: map[string]any{"data": nil}}, nil

	case RelPolymorphicBelongsTo:
		typ := stringifyScalar(record.Attributes[spec.TypeField])
		id := stringifyScalar(record.Attributes[spec.IDField])
		if typ == "" || id == "" {
			return &Response{Status: 200, Document: map[string]any{"data": nil}}, nil
		}
		return &Response{Status: 200, Document: map[string]any{"data": map[string]any{"type": typ, "id": id}}}, nil

	default:
		include, err := ex.loadIncludes(ctx, resource.Name, []Record{*record}, QueryParams{Include: []string{req.RelationshipName}}, nil)
		if err != nil {
			return nil, err
		}
		ids := include.Linkage[req.RelationshipName][req.ID]
		data := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			data = append(data, map[string]any{"type": id.Type, "id": id.ID})
		}
		return &Response{Status: 200, Document: map[string]any{"data": data}}, nil
	}
}

func (ex *Executor) doWriteRelationships(ctx context.Context, resource *ResourceDefinition, req Request, auth AuthContext) (*Response, error) {
	minimal, err := ex.loadAuthorizedMinimal(ctx, resource, req.ID, auth, req.Operation, nil)
	if err != nil {
		return nil, err
	}
	_ = minimal

	spec, ok := resource.relationshipAlias(req.RelationshipName)
	if !ok {
		return nil, ErrValidationViolations(Violation{Path: "relationship", Message: "unknown relationship alias: " + req.RelationshipName})
	}

	rel, err := decodeRelationshipBody(req.Body)
	if err != nil {
		return nil, err
	}

	tx, err := ex.storage.NewTransaction(ctx)
	if err != nil {
		return nil, ErrStorage(err)
	}

	switch spec.Kind {
	case RelBelongsTo, RelPolymorphicBelongsTo:
		updates := map[string]any{}
		if rel.isNull() {
			updates[spec.ForeignKeyField] = nil
			if spec.Kind == RelPolymorphicBelongsTo {
				updates[spec.TypeField] = nil
				updates[spec.IDField] = nil
			}
		} else {
			dto, derr := decodeIdentifier(rel.Raw)
			if derr != nil {
				ex.rollback(ctx, tx)
				return nil, derr
			}
			if spec.Kind == RelPolymorphicBelongsTo {
				updates[spec.TypeField] = dto.Type
				updates[spec.IDField] = stringifyScalar(dto.ID)
			} else {
				updates[spec.ForeignKeyField] = stringifyScalar(dto.ID)
			}
		}
		if _, err := ex.storage.Patch(ctx, resource.Name, req.ID, updates, tx); err != nil {
			ex.rollback(ctx, tx)
			return nil, err
		}

	default:
		ids, derr := decodeIdentifierList(rel)
		if derr != nil {
			ex.rollback(ctx, tx)
			return nil, derr
		}
		if spec.Through == "" {
			ex.rollback(ctx, tx)
			return nil, ErrUnsupportedOperation("relationship_write_without_through_table")
		}
		switch req.Operation {
		case OpPostRelationships:
			rows := pivotRowsFor(req.ID, ids)
			if err := ex.storage.PivotInsert(ctx, spec.Through, rows, tx); err != nil {
				ex.rollback(ctx, tx)
				return nil, err
			}
		case OpPatchRelationships:
			if err := ex.storage.PivotDelete(ctx, spec.Through, PivotFilter{LocalKeyField: spec.LocalKey, LocalKeyValue: req.ID}, tx); err != nil {
				ex.rollback(ctx, tx)
				return nil, err
			}
			if err := ex.storage.PivotInsert(ctx, spec.Through, pivotRowsFor(req.ID, ids), tx); err != nil {
				ex.rollback(ctx, tx)
				return nil, err
			}
		case OpDeleteRelationships:
			if err := ex.storage.PivotDelete(ctx, spec.Through, PivotFilter{LocalKeyField: spec.LocalKey, LocalKeyValue: req.ID, OtherKeyField: spec.OtherKey, OtherKeyValues: ids}, tx); err != nil {
				ex.rollback(ctx, tx)
				return nil, err
			}
		}
	}

	ex.emit(tx, resource.Name, req.ID, ChangeUpdated, req.Operation, nil)
	if err := ex.commit(ctx, tx); err != nil {
		return nil, err
	}
	return &Response{Status: 204}, nil
}

// writePivots applies RelationshipProcessor output: replace semantics on
// updates (delete existing rows for this local key, then insert), pure
// insert on create (spec.md §4.6).
func (ex *Executor) writePivots(ctx context.Context, resource *ResourceDefinition, localID string, ops []PivotOperation, replace bool, tx Transaction) error {
	for _, op := range ops {
		if replace {
			if err := ex.storage.PivotDelete(ctx, op.Through, PivotFilter{LocalKeyField: op.LocalKey, LocalKeyValue: localID}, tx); err != nil {
				return err
			}
		}
		if len(op.Identifiers) == 0 {
			continue
		}
		if err := ex.storage.PivotInsert(ctx, op.Through, pivotRowsFor(localID, op.Identifiers), tx); err != nil {
			return err
		}
	}
	return nil
}

func pivotRowsFor(localID string, otherIDs []string) []PivotRow {
	rows := make([]PivotRow, 0, len(otherIDs))
	for _, oid := range otherIDs {
		rows = append(rows, PivotRow{LocalKey: localID, OtherKey: oid})
	}
	return rows
}

func (ex *Executor) commit(ctx context.Context, tx Transaction) error {
	if err := ex.storage.Commit(ctx, tx); err != nil {
		if ex.broadcaster != nil {
			ex.broadcaster.Discard(tx.ID())
		}
		ex.log.Errorw("commit failed", "tx", tx.ID(), "error", err)
		return ErrStorage(err)
	}
	if ex.broadcaster != nil {
		ex.broadcaster.Drain(ctx, tx.ID())
	}
	return nil
}

func (ex *Executor) rollback(ctx context.Context, tx Transaction) {
	if err := ex.storage.Rollback(ctx, tx); err != nil {
		ex.log.Errorw("rollback failed", "tx", tx.ID(), "error", err)
	}
	if ex.broadcaster != nil {
		ex.broadcaster.Discard(tx.ID())
	}
}

// emit buffers a change event for post-commit-only delivery (spec.md §4.11:
// "subscribers never see uncommitted data"). Buffering happens before
// commit so doWrite/doPost/doDelete can call this once, right after the
// storage call succeeds, and commit() drains it.
func (ex *Executor) emit(tx Transaction, resource, id string, kind ChangeEventType, verb Operation, attrs map[string]any) {
	if ex.broadcaster == nil {
		return
	}
	ex.broadcaster.Buffer(tx.ID(), ChangeEvent{
		Resource:   resource,
		ID:         id,
		Kind:       kind,
		Verb:       verb,
		Attributes: attrs,
	})
}

func mergeAttrs(attrs map[string]any, fkUpdates map[string]any) map[string]any {
	if len(fkUpdates) == 0 {
		return attrs
	}
	out := make(map[string]any, len(attrs)+len(fkUpdates))
	for k, v := range attrs {
		out[k] = v
	}
	for k, v := range fkUpdates {
		out[k] = v
	}
	return out
}

func fieldsetFor(qp QueryParams, resourceName string) []string {
	csv, ok := qp.Fields[resourceName]
	if !ok {
		return nil
	}
	return SplitFieldset(csv)
}

// decodeRelationshipBody parses a relationship sub-endpoint body, which is
// exactly {data: <identifier|array|null>} at the top level (spec.md §4.9) -
// unlike a resource body, it carries no type/attributes of its own.
func decodeRelationshipBody(body []byte) (RelationshipData, error) {
	if len(body) == 0 {
		return RelationshipData{}, ErrPayload("data", "object", "missing body")
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return RelationshipData{}, ErrPayload("$", "JSON object", "malformed JSON")
	}
	data, present := raw["data"]
	if !present {
		return RelationshipData{}, ErrPayload("data", "object|array|null", "missing")
	}
	return RelationshipData{Present: true, Raw: data}, nil
}
