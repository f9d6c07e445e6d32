package backend

import "fmt"

// Kind tags the shape of a backend function.
type Kind int

const (
	KindQuery Kind = iota
	KindPaginatedQuery
	KindMutation
	KindAction
)

func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindPaginatedQuery:
		return "paginated"
	case KindMutation:
		return "mutation"
	case KindAction:
		return "action"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps a config string onto a Kind.
func ParseKind(raw string) (Kind, error) {
	switch raw {
	case "", "query":
		return KindQuery, nil
	case "paginated", "paginated_query":
		return KindPaginatedQuery, nil
	case "mutation":
		return KindMutation, nil
	case "action":
		return KindAction, nil
	default:
		return 0, fmt.Errorf("unknown function kind %q", raw)
	}
}

// Ref identifies a backend function independent of its argument and result
// types.
type Ref interface {
	Name() string
	Kind() Kind
}

// QueryRef is a live query taking A and producing R.
type QueryRef[A, R any] struct{ name string }

// Query builds a QueryRef.
func Query[A, R any](name string) QueryRef[A, R] { return QueryRef[A, R]{name: name} }

func (r QueryRef[A, R]) Name() string { return r.name }
func (r QueryRef[A, R]) Kind() Kind   { return KindQuery }

// PaginatedQueryRef is a paginated query taking A and yielding items of I.
type PaginatedQueryRef[A, I any] struct{ name string }

// PaginatedQuery builds a PaginatedQueryRef.
func PaginatedQuery[A, I any](name string) PaginatedQueryRef[A, I] {
	return PaginatedQueryRef[A, I]{name: name}
}

func (r PaginatedQueryRef[A, I]) Name() string { return r.name }
func (r PaginatedQueryRef[A, I]) Kind() Kind   { return KindPaginatedQuery }

// MutationRef is a transactional write taking A and returning R.
type MutationRef[A, R any] struct{ name string }

// Mutation builds a MutationRef.
func Mutation[A, R any](name string) MutationRef[A, R] { return MutationRef[A, R]{name: name} }

func (r MutationRef[A, R]) Name() string { return r.name }
func (r MutationRef[A, R]) Kind() Kind   { return KindMutation }

// ActionRef is a non-transactional call taking A and returning R.
type ActionRef[A, R any] struct{ name string }

// Action builds an ActionRef.
func Action[A, R any](name string) ActionRef[A, R] { return ActionRef[A, R]{name: name} }

func (r ActionRef[A, R]) Name() string { return r.name }
func (r ActionRef[A, R]) Kind() Kind   { return KindAction }

var (
	_ Ref = QueryRef[any, any]{}
	_ Ref = PaginatedQueryRef[any, any]{}
	_ Ref = MutationRef[any, any]{}
	_ Ref = ActionRef[any, any]{}
)
