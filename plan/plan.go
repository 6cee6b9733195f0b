package plan

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/schemaplan/schemaplan/diff"
	"github.com/schemaplan/schemaplan/risk"
	"github.com/schemaplan/schemaplan/schema"
)

// Phase tags a unit produced by phased planning. Units from default
// planning carry no phase.
type Phase string

const (
	PhaseNone     Phase = ""
	PhaseExpand   Phase = "expand"
	PhaseBackfill Phase = "backfill"
	PhaseContract Phase = "contract"
)

// Unit is an atomically tracked batch of change operations. A backfill
// unit carries no operations: it is a marker that stops the applier until
// an operator acknowledges the data migration it stands for.
type Unit struct {
	Sequence   int
	Label      string
	Phase      Phase
	Operations []diff.Operation
	Checksum   string
}

// ID combines the monotonic sequence with the human label.
func (u Unit) ID() string {
	return fmt.Sprintf("%04d_%s", u.Sequence, u.Label)
}

// IsBackfillMarker reports whether the unit is a pause point rather than
// a batch of schema operations.
func (u Unit) IsBackfillMarker() bool {
	return u.Phase == PhaseBackfill
}

type Options struct {
	// Phased splits requires-backfill operations into expand / backfill /
	// contract units. Without it the whole diff is one unit.
	Phased bool

	// StartSequence numbers the first emitted unit; callers continue the
	// numbering from the history store. Zero means start at 1.
	StartSequence int

	// Classifier grades operations for phased splitting. Required when
	// Phased is set.
	Classifier *risk.Classifier

	// Context is the desired model the operations came from, handed to
	// the classifier.
	Context *schema.Model
}

// Build turns an ordered diff into migration units. Operations are never
// reordered; phased planning only inserts unit boundaries around backfill
// points, so unit concatenation always replays the input sequence with
// expand-form substitutions.
func Build(ops []diff.Operation, opts Options) ([]Unit, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	if opts.Phased && opts.Classifier == nil {
		return nil, fmt.Errorf("phased planning requires a classifier")
	}

	seq := opts.StartSequence
	if seq <= 0 {
		seq = 1
	}

	if !opts.Phased {
		u := newUnit(seq, PhaseNone, ops)
		return []Unit{u}, nil
	}

	var units []Unit
	var current []diff.Operation
	currentPhase := PhaseNone

	flush := func(phase Phase) {
		if len(current) == 0 {
			return
		}
		units = append(units, newUnit(seq, phase, current))
		seq++
		current = nil
	}

	for _, op := range ops {
		if opts.Classifier.Classify(op, opts.Context) != risk.RequiresBackfill {
			current = append(current, op)
			continue
		}

		expandOp, contractOp := splitBackfill(op)
		if currentPhase == PhaseContract {
			// A later backfill point: close out the previous point's
			// contract work before this point's expand starts a unit.
			flush(PhaseContract)
			currentPhase = PhaseNone
		}
		if expandOp != nil {
			current = append(current, *expandOp)
		}
		flush(PhaseExpand)

		units = append(units, Unit{
			Sequence: seq,
			Label:    backfillLabel(contractOp),
			Phase:    PhaseBackfill,
			Checksum: checksumMarker(backfillLabel(contractOp)),
		})
		seq++

		current = append(current, contractOp)
		currentPhase = PhaseContract
	}
	flush(currentPhase)

	return units, nil
}

// splitBackfill rewrites a requires-backfill operation into its safe
// expand form and its tightening contract form. When there is nothing to
// expand (the structure already exists), only the contract form remains.
func splitBackfill(op diff.Operation) (*diff.Operation, diff.Operation) {
	switch op.Type {
	case diff.AddColumn:
		relaxed := *op.Column
		relaxed.Nullable = true
		tightened := *op.Column

		expand := op
		expand.Column = &relaxed

		contract := diff.Operation{
			Type:       diff.AlterColumnNullability,
			TableName:  op.TableName,
			ColumnName: op.Column.Name,
			OldColumn:  &relaxed,
			Column:     &tightened,
		}
		return &expand, contract

	default:
		// AlterColumnNullability to not-null, or anything else graded
		// requires-backfill: the structural change already happened, so
		// the operation itself is the contract step.
		return nil, op
	}
}

func newUnit(seq int, phase Phase, ops []diff.Operation) Unit {
	u := Unit{
		Sequence:   seq,
		Label:      unitLabel(ops),
		Phase:      phase,
		Operations: append([]diff.Operation(nil), ops...),
	}
	u.Checksum = ChecksumOps(phase, u.Operations)
	return u
}

func unitLabel(ops []diff.Operation) string {
	label := slug(ops[0].Describe())
	if len(ops) > 1 {
		label = fmt.Sprintf("%s_and_%d_more", label, len(ops)-1)
	}
	return label
}

func backfillLabel(contract diff.Operation) string {
	return "backfill_" + slug(fmt.Sprintf("%s %s", contract.TableName, contract.ColumnName))
}

// ChecksumOps hashes a unit's operation list in its canonical YAML
// encoding. The sequence number is deliberately excluded: the same
// operations always hash the same, which is what lets the history store
// recognize already-applied units across replans.
func ChecksumOps(phase Phase, ops []diff.Operation) string {
	payload := struct {
		Phase      Phase            `yaml:"phase"`
		Operations []diff.Operation `yaml:"operations"`
	}{Phase: phase, Operations: ops}
	data, err := yaml.Marshal(&payload)
	if err != nil {
		panic(fmt.Sprintf("plan: marshal operations for checksum: %v", err))
	}
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

func checksumMarker(label string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte("backfill|"+label)))
}

func slug(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
