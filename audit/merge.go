package audit

// Merge joins an append-only list with a contribution: existing ++ contributed.
// The result never aliases contributed, and existing entries keep their order.
// When parallel branches contribute, each branch's items stay in branch order;
// ordering between branches follows the order Merge is called in.
func Merge[T any](existing, contributed []T) []T {
	if len(contributed) == 0 {
		return existing
	}
	out := make([]T, 0, len(existing)+len(contributed))
	out = append(out, existing...)
	return append(out, contributed...)
}
