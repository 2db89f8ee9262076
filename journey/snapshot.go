package journey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/voyantlabs/journey-go/journey/emit"
	"github.com/voyantlabs/journey-go/journey/store"
)

// Document type prefixes used as repository keys. The full key is the
// prefix, the path separator and the case id (plus a sequence for audit
// documents).
const (
	docTypeProcessInfo = "workflow_process_info"
	docTypeJourney     = "workflow_journey"
	docTypeAudit       = "workflow_audit"
	docTypeCounter     = "workflow_counter"
)

func (e *Engine) processInfoKey(caseID string) string {
	return docTypeProcessInfo + e.opts.PathSeparator + caseID
}

func (e *Engine) journeyKey(caseID string) string {
	return docTypeJourney + e.opts.PathSeparator + caseID
}

func (e *Engine) counterKey(caseID string) string {
	return docTypeCounter + e.opts.PathSeparator + caseID
}

func (e *Engine) auditKey(caseID string, seq int64) string {
	return docTypeAudit + e.opts.PathSeparator + caseID + e.opts.PathSeparator + fmt.Sprintf("%05d", seq)
}

// variableDoc is the persisted form of a variable. Values are carried as
// strings; complex objects are not supported.
type variableDoc struct {
	Name  string  `json:"name"`
	Type  VarType `json:"type"`
	Value string  `json:"value"`
}

type execPathDoc struct {
	Name               string       `json:"name"`
	Status             PathStatus   `json:"status"`
	Step               string       `json:"step"`
	PendWorkBasket     string       `json:"pend_work_basket,omitempty"`
	PrevPendWorkBasket string       `json:"prev_pend_work_basket,omitempty"`
	TbcSLAWorkBasket   string       `json:"tbc_sla_work_basket,omitempty"`
	PendError          *ErrorInfo   `json:"pend_error,omitempty"`
	UnitResponseType   ResponseType `json:"unit_response_type,omitempty"`
	Ticket             string       `json:"ticket,omitempty"`
}

type lastUnitDoc struct {
	Name      string `json:"name,omitempty"`
	Component string `json:"component,omitempty"`
}

// caseDocument is the snapshot persisted under the process-info key: the
// full case state of one moment of quiescence, sufficient to reconstruct
// the case together with the separately persisted journey document.
type caseDocument struct {
	CaseID       string        `json:"case_id"`
	JourneyName  string        `json:"journey_name"`
	Variables    []variableDoc `json:"variables"`
	ExecPaths    []execPathDoc `json:"exec_paths"`
	PendExecPath string        `json:"pend_exec_path,omitempty"`
	Ticket       string        `json:"ticket,omitempty"`
	LastUnit     lastUnitDoc   `json:"last_unit_executed"`
	IsComplete   bool          `json:"is_complete"`
	Milestones   []Milestone   `json:"milestones,omitempty"`
	WrittenAt    time.Time     `json:"written_at"`
}

// auditDocument is a sequenced copy of a snapshot for post-hoc
// inspection.
type auditDocument struct {
	AuditID string `json:"audit_id"`
	Seq     int64  `json:"seq"`
	caseDocument
}

func encodeVariable(v Variable) (variableDoc, error) {
	doc := variableDoc{Name: v.Name, Type: v.Type}
	switch v.Type {
	case VarString:
		s, ok := v.Value.(string)
		if !ok {
			return doc, fmt.Errorf("variable %s does not hold a string", v.Name)
		}
		doc.Value = s
	case VarLong, VarInteger:
		n, err := toInt64(v.Name, v.Value)
		if err != nil {
			return doc, err
		}
		doc.Value = strconv.FormatInt(n, 10)
	case VarBoolean:
		b, ok := v.Value.(bool)
		if !ok {
			return doc, fmt.Errorf("variable %s does not hold a boolean", v.Name)
		}
		doc.Value = strconv.FormatBool(b)
	default:
		return doc, fmt.Errorf("variable %s has unknown type %q", v.Name, v.Type)
	}
	return doc, nil
}

func decodeVariable(doc variableDoc) (Variable, error) {
	v := Variable{Name: doc.Name, Type: doc.Type}
	switch doc.Type {
	case VarString:
		v.Value = doc.Value
	case VarLong:
		n, err := strconv.ParseInt(doc.Value, 10, 64)
		if err != nil {
			return v, fmt.Errorf("variable %s: bad long %q", doc.Name, doc.Value)
		}
		v.Value = n
	case VarInteger:
		n, err := strconv.ParseInt(doc.Value, 10, 32)
		if err != nil {
			return v, fmt.Errorf("variable %s: bad integer %q", doc.Name, doc.Value)
		}
		v.Value = int(n)
	case VarBoolean:
		b, err := strconv.ParseBool(doc.Value)
		if err != nil {
			return v, fmt.Errorf("variable %s: bad boolean %q", doc.Name, doc.Value)
		}
		v.Value = b
	default:
		return v, fmt.Errorf("variable %s has unknown type %q", doc.Name, doc.Type)
	}
	return v, nil
}

// buildDocument captures the case under its internal lock. Callers that
// already hold c.mu use buildDocumentLocked.
func buildDocument(c *caseState) (*caseDocument, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return buildDocumentLocked(c)
}

func buildDocumentLocked(c *caseState) (*caseDocument, error) {
	doc := &caseDocument{
		CaseID:       c.CaseID,
		JourneyName:  c.Journey.Name,
		PendExecPath: c.PendExecPath,
		Ticket:       c.Ticket,
		LastUnit:     lastUnitDoc{Name: c.LastUnitExecuted.Name, Component: c.LastUnitExecuted.Component},
		IsComplete:   c.IsComplete,
		Milestones:   c.Milestones,
		WrittenAt:    time.Now().UTC(),
	}
	for _, v := range c.Variables.snapshot() {
		vd, err := encodeVariable(v)
		if err != nil {
			return nil, err
		}
		doc.Variables = append(doc.Variables, vd)
	}
	for _, p := range c.sortedPaths() {
		doc.ExecPaths = append(doc.ExecPaths, execPathDoc{
			Name:               p.Name,
			Status:             p.Status,
			Step:               p.Step,
			PendWorkBasket:     p.PendWorkBasket,
			PrevPendWorkBasket: p.PrevPendWorkBasket,
			TbcSLAWorkBasket:   p.TbcSLAWorkBasket,
			PendError:          p.PendError,
			UnitResponseType:   p.UnitResponseType,
			Ticket:             p.Ticket,
		})
	}
	return doc, nil
}

// persistCase writes the current snapshot, and an audit copy when audit
// logging is enabled. Must be called with c.mu held so concurrent path
// workers cannot mutate the case mid-serialization; the case lock also
// serializes snapshot writes per case.
func (e *Engine) persistCase(ctx context.Context, c *caseState) error {
	doc, err := buildDocumentLocked(c)
	if err != nil {
		return engineErrWrap(CodePersistFailed, "failed to serialize case "+c.CaseID, err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return engineErrWrap(CodePersistFailed, "failed to serialize case "+c.CaseID, err)
	}
	if err := e.repo.SaveOrUpdate(ctx, e.processInfoKey(c.CaseID), raw); err != nil {
		return engineErrWrap(CodePersistFailed, "failed to persist case "+c.CaseID, err)
	}
	if e.metrics != nil {
		e.metrics.snapshotWritten()
	}
	if e.opts.WriteAuditLog {
		if err := e.writeAudit(ctx, c.CaseID, doc); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) writeAudit(ctx context.Context, caseID string, doc *caseDocument) error {
	seq, err := e.repo.IncrCounter(ctx, e.counterKey(caseID))
	if err != nil {
		return engineErrWrap(CodePersistFailed, "failed to increment audit counter for "+caseID, err)
	}
	audit := auditDocument{
		AuditID:      uuid.NewString(),
		Seq:          seq,
		caseDocument: *doc,
	}
	raw, err := json.Marshal(audit)
	if err != nil {
		return engineErrWrap(CodePersistFailed, "failed to serialize audit document for "+caseID, err)
	}
	if err := e.repo.SaveOrUpdate(ctx, e.auditKey(caseID, seq), raw); err != nil {
		return engineErrWrap(CodePersistFailed, "failed to persist audit document for "+caseID, err)
	}
	return nil
}

// persistJourney writes the journey definition document once, at
// StartCase time.
func (e *Engine) persistJourney(ctx context.Context, caseID string, jny *Journey) error {
	raw, err := json.Marshal(journeyToDoc(jny))
	if err != nil {
		return engineErrWrap(CodePersistFailed, "failed to serialize journey for "+caseID, err)
	}
	if err := e.repo.SaveOrUpdate(ctx, e.journeyKey(caseID), raw); err != nil {
		return engineErrWrap(CodePersistFailed, "failed to persist journey for "+caseID, err)
	}
	return nil
}

// loadCase reconstructs a case from its last persisted snapshot. Paths
// found running (in-flight at crash time) are reclassified as started so
// they re-execute; a partially written or structurally inconsistent
// snapshot is rejected rather than repaired.
func (e *Engine) loadCase(ctx context.Context, caseID string) (*caseState, error) {
	raw, err := e.repo.Get(ctx, e.processInfoKey(caseID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, engineErr(CodeCaseNotFound, "no case found with id "+caseID)
	}
	if err != nil {
		return nil, engineErrWrap(CodePersistFailed, "failed to load case "+caseID, err)
	}
	var doc caseDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, engineErrWrap(CodeInvariantViolation, "corrupt snapshot for case "+caseID, err)
	}

	jnyRaw, err := e.repo.Get(ctx, e.journeyKey(caseID))
	if err != nil {
		return nil, engineErrWrap(CodePersistFailed, "failed to load journey for case "+caseID, err)
	}
	jny, err := decodeJourneyDoc(jnyRaw)
	if err != nil {
		return nil, engineErrWrap(CodeInvariantViolation, "corrupt journey document for case "+caseID, err)
	}
	if err := jny.Validate(e.opts.PathSeparator); err != nil {
		return nil, err
	}

	vars := make([]Variable, 0, len(doc.Variables))
	for _, vd := range doc.Variables {
		v, err := decodeVariable(vd)
		if err != nil {
			return nil, engineErrWrap(CodeInvariantViolation, "corrupt snapshot for case "+caseID, err)
		}
		vars = append(vars, v)
	}

	c := &caseState{
		CaseID:       doc.CaseID,
		Journey:      jny,
		Variables:    newVariables(vars),
		paths:        make(map[string]*ExecPath, len(doc.ExecPaths)),
		PendExecPath: doc.PendExecPath,
		Ticket:       doc.Ticket,
		LastUnitExecuted: lastUnit{
			Name:      doc.LastUnit.Name,
			Component: doc.LastUnit.Component,
		},
		IsComplete: doc.IsComplete,
		Milestones: doc.Milestones,
	}
	for _, pd := range doc.ExecPaths {
		status := pd.Status
		if status == PathRunning {
			status = PathStarted
		}
		c.paths[pd.Name] = &ExecPath{
			Name:               pd.Name,
			Status:             status,
			Step:               pd.Step,
			PendWorkBasket:     pd.PendWorkBasket,
			PrevPendWorkBasket: pd.PrevPendWorkBasket,
			TbcSLAWorkBasket:   pd.TbcSLAWorkBasket,
			PendError:          pd.PendError,
			UnitResponseType:   pd.UnitResponseType,
			Ticket:             pd.Ticket,
		}
	}
	if err := c.checkInvariants(e.opts.PathSeparator); err != nil {
		return nil, err
	}
	return c, nil
}

// GetCaseState returns the externally visible view of a case's last
// durable snapshot without driving it. Read-only: no case lock, no user
// callouts, no writes.
func (e *Engine) GetCaseState(ctx context.Context, caseID string) (*CaseState, error) {
	c, err := e.loadCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return c.view(), nil
}

func (e *Engine) emitSnapshot(c *caseState, pathName string) {
	e.emit(emit.Event{
		CaseID:   c.CaseID,
		PathName: pathName,
		Msg:      "snapshot_written",
	})
}
