package graph

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/ZanzyTHEbar/sg-entity-graph/internal/apptype"
)

// ErrInvalidRequest is wrapped by every request validation failure.
var ErrInvalidRequest = errors.New("invalid request")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateOptions, Options{})
	return v
}

// validateOptions requires the root type whenever something is scoped to
// it; an empty type matches no node.
func validateOptions(sl validator.StructLevel) {
	o := sl.Current().Interface().(Options)
	if o.EntityType == "" && (len(o.Fields) > 0 || o.GroupField != "") {
		sl.ReportError(o.EntityType, "EntityType", "EntityType", "required_with_fields", "")
	}
}

// Request holds the parameters of one graph query.
type Request struct {
	EntityType string   `json:"entityType" validate:"required"`
	EntityIDs  []int64  `json:"entityIds" validate:"required,min=1"`
	Fields     []string `json:"fields" validate:"required,min=1,dive,required"`
	GroupField string   `json:"groupField,omitempty"`
	ProjectID  *int64   `json:"projectId,omitempty"`
}

// Validate checks the request against its struct tags.
func (r Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// Validate checks that opts name the root type when they ask for field
// back-fill or grouping.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// PlanQuery returns the fields and filters for the initial lookup of the
// root entities. Besides the display fields it asks for the group field,
// the thumbnail, and the link field behind every denormalized field so the
// linked entity becomes a node the value can be attached to.
func PlanQuery(req Request) ([]string, []apptype.Filter) {
	fields := make([]string, 0, len(req.Fields)+2)
	seen := make(map[string]struct{})
	add := func(f string) {
		if f == "" {
			return
		}
		if _, ok := seen[f]; ok {
			return
		}
		seen[f] = struct{}{}
		fields = append(fields, f)
	}
	for _, f := range req.Fields {
		add(f)
	}
	add(req.GroupField)
	add("image")
	for _, f := range req.Fields {
		if local, ok := LocalField(f); ok {
			add(local)
		}
	}

	filters := []apptype.Filter{apptype.IDIn(req.EntityIDs)}
	if req.ProjectID != nil {
		filters = append(filters, apptype.ProjectIs(apptype.EntityRef{Type: "Project", ID: *req.ProjectID}))
	}
	return fields, filters
}
