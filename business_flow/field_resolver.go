package businessflow

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/amirphl/Kagutsuchi/models"
	"github.com/amirphl/Kagutsuchi/repository"
)

// FieldKind selects how a raw payload value is turned into a stored value
type FieldKind string

const (
	FieldKindText     FieldKind = "text"
	FieldKindSelect   FieldKind = "select"
	FieldKindDatabase FieldKind = "database"
)

// FieldSpec is the resolved kind of a form field; Source is only set for
// database fields
type FieldSpec struct {
	Kind   FieldKind
	Source repository.LookupSource
}

type databaseOptions struct {
	Source string `json:"source"`
}

// KindOf derives the FieldSpec of a stored field
func KindOf(field *models.FormField) (FieldSpec, error) {
	switch field.FieldType {
	case models.FieldTypeSelect:
		return FieldSpec{Kind: FieldKindSelect}, nil
	case models.FieldTypeDatabase:
		var opts databaseOptions
		if len(field.FieldOptions) > 0 {
			if err := json.Unmarshal(field.FieldOptions, &opts); err != nil {
				return FieldSpec{}, fmt.Errorf("field %s: %w", field.FieldName, ErrInvalidFieldOptions)
			}
		}
		src, ok := repository.LookupSourceByName(opts.Source)
		if !ok {
			return FieldSpec{}, fmt.Errorf("field %s: unknown lookup source %q: %w", field.FieldName, opts.Source, ErrInvalidFieldOptions)
		}
		return FieldSpec{Kind: FieldKindDatabase, Source: src}, nil
	default:
		return FieldSpec{Kind: FieldKindText}, nil
	}
}

// FieldResolver turns a raw payload value into the value stored on the response
type FieldResolver interface {
	Resolve(ctx context.Context, spec FieldSpec, raw string) (string, error)
}

type textResolver struct{}

func (textResolver) Resolve(_ context.Context, _ FieldSpec, raw string) (string, error) {
	return strings.TrimSpace(raw), nil
}

type selectResolver struct{}

func (selectResolver) Resolve(_ context.Context, _ FieldSpec, raw string) (string, error) {
	return raw, nil
}

var (
	parentheticalRe = regexp.MustCompile(`\s*\([^)]*\)`)
	cityPrefixRe    = regexp.MustCompile(`^[^-]+?\s+-\s+`)
)

// minPartialLabelLength is the shortest input matched as a fragment of a label
const minPartialLabelLength = 4

// databaseResolver maps a label to the id of a lookup row, falling back to
// the raw input when nothing matches
type databaseResolver struct {
	lookupRepo repository.LookupRepository
}

type lookupRule func(ctx context.Context, src repository.LookupSource, input string) (*repository.LookupRow, error)

type lookupAttempt struct {
	rule  lookupRule
	input string
}

func (r *databaseResolver) Resolve(ctx context.Context, spec FieldSpec, raw string) (string, error) {
	input := strings.TrimSpace(raw)
	if input == "" {
		return "", nil
	}

	noParen := strings.TrimSpace(parentheticalRe.ReplaceAllString(input, ""))
	noCity := strings.TrimSpace(cityPrefixRe.ReplaceAllString(noParen, ""))

	attempts := []lookupAttempt{
		{r.lookupRepo.ExactLabel, input},
		{r.lookupRepo.ContainedLabel, input},
		{r.lookupRepo.ExactLabel, noParen},
		{r.lookupRepo.ExactLabel, noCity},
		{r.lookupRepo.ContainedLabel, noCity},
	}
	if utf8.RuneCountInString(noCity) >= minPartialLabelLength {
		attempts = append(attempts, lookupAttempt{r.lookupRepo.LabelContaining, noCity})
	}
	for _, a := range attempts {
		if a.input == "" {
			continue
		}
		row, err := a.rule(ctx, spec.Source, a.input)
		if err != nil {
			return "", err
		}
		if row != nil {
			return row.ID, nil
		}
	}
	return input, nil
}

// FieldResolvers dispatches on FieldKind
type FieldResolvers map[FieldKind]FieldResolver

func NewFieldResolvers(lookupRepo repository.LookupRepository) FieldResolvers {
	return FieldResolvers{
		FieldKindText:     textResolver{},
		FieldKindSelect:   selectResolver{},
		FieldKindDatabase: &databaseResolver{lookupRepo: lookupRepo},
	}
}

// Resolve resolves raw for field using the resolver of its kind
func (rs FieldResolvers) Resolve(ctx context.Context, field *models.FormField, raw string) (string, error) {
	spec, err := KindOf(field)
	if err != nil {
		return "", err
	}
	resolver, ok := rs[spec.Kind]
	if !ok {
		return "", fmt.Errorf("no resolver for field kind %s", spec.Kind)
	}
	return resolver.Resolve(ctx, spec, raw)
}

// uniResolution is the outcome of coercing the uni field
type uniResolution struct {
	Value    string
	EntityID *uint
}

// resolveUni coerces a uni value to a numeric uni_id. Unknown universities
// keep their raw name and leave the entity unresolved.
func resolveUni(ctx context.Context, uniRepo repository.UniMappingRepository, value string) (uniResolution, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return uniResolution{}, nil
	}

	var (
		mapping *models.UniMapping
		err     error
	)
	if id, perr := strconv.ParseInt(value, 10, 64); perr == nil {
		mapping, err = uniRepo.ByUniID(ctx, id)
	} else {
		mapping, err = uniRepo.ByUniName(ctx, value)
	}
	if err != nil {
		return uniResolution{}, fmt.Errorf("failed to resolve university %q: %w", value, err)
	}
	if mapping == nil {
		return uniResolution{Value: value}, nil
	}

	entityID := mapping.EntityID
	return uniResolution{Value: strconv.FormatInt(mapping.UniID, 10), EntityID: &entityID}, nil
}
