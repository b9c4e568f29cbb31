package stdx

// Must1 returns v if err is nil and panics otherwise. Reserved for wiring
// code where a failure means the process cannot meaningfully start.
func Must1[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
