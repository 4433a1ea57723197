package systemprompt

// ContextProvider is an interface that defines the title and info of a context provider
type ContextProvider interface {
	Title() string
	Info() string
}

// Static a context provider with fixed content
type Static struct {
	title string
	info  string
}

var _ ContextProvider = (*Static)(nil)

// NewStatic returns a provider titled title with info
func NewStatic(title string, info string) *Static {
	return &Static{title: title, info: info}
}

func (s *Static) Title() string {
	return s.title
}

func (s *Static) Info() string {
	return s.info
}

// Func a context provider computing its info on render
type Func struct {
	title string
	fn    func() string
}

var _ ContextProvider = (*Func)(nil)

// NewFunc returns a provider rendering fn
func NewFunc(title string, fn func() string) *Func {
	return &Func{title: title, fn: fn}
}

func (f *Func) Title() string {
	return f.title
}

func (f *Func) Info() string {
	if f.fn == nil {
		return ""
	}
	return f.fn()
}
