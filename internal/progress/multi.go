package progress

import "errors"

// Multi fans every call out to all reporters. Errors are joined, so an
// ErrAborted from any member is visible through errors.Is.
func Multi(reporters ...Reporter) Reporter {
	var rs multi
	for _, r := range reporters {
		if r != nil {
			rs = append(rs, r)
		}
	}
	switch len(rs) {
	case 0:
		return Discard
	case 1:
		return rs[0]
	}
	return rs
}

type multi []Reporter

func (m multi) each(fn func(Reporter) error) error {
	var errs []error
	for _, r := range m {
		if err := fn(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multi) BeginStage(name string) {
	for _, r := range m {
		BeginStage(r, name)
	}
}

func (m multi) Start(min, max int, title string) error {
	return m.each(func(r Reporter) error { return r.Start(min, max, title) })
}

func (m multi) Region(start, end int) error {
	return m.each(func(r Reporter) error { return r.Region(start, end) })
}

func (m multi) Set(value int) error {
	return m.each(func(r Reporter) error { return r.Set(value) })
}

func (m multi) Step(n int) error {
	return m.each(func(r Reporter) error { return r.Step(n) })
}

func (m multi) Info(template string, vars Vars) error {
	return m.each(func(r Reporter) error { return r.Info(template, vars) })
}

func (m multi) Stop() error {
	return m.each(func(r Reporter) error { return r.Stop() })
}
