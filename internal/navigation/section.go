package navigation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arrdeck/arrdeck/internal/constants"
	"github.com/arrdeck/arrdeck/internal/validate"
)

// Section names a screen.
type Section string

const (
	Home     Section = "home"
	Settings Section = "settings"
)

// Kind is the family a section belongs to.
type Kind string

const (
	KindHome     Kind = "home"
	KindSettings Kind = "settings"
	KindApp      Kind = "app"
	KindEditor   Kind = "editor"
)

const newInstance = "new"

// AppSection is the overview of one application.
func AppSection(app string) Section {
	return Section("app:" + app)
}

// EditorSection is the editor for one instance. A negative index opens the
// editor for a new instance.
func EditorSection(app string, index int) Section {
	if index < 0 {
		return Section("editor:" + app + ":" + newInstance)
	}
	return Section("editor:" + app + ":" + strconv.Itoa(index))
}

// ParseSection validates raw.
func ParseSection(raw string) (Section, error) {
	s := Section(strings.TrimSpace(raw))
	switch s {
	case Home, Settings:
		return s, nil
	}
	parts := strings.Split(string(s), ":")
	switch {
	case len(parts) == 2 && parts[0] == string(KindApp):
		if err := checkApp(parts[1]); err != nil {
			return "", err
		}
		return s, nil
	case len(parts) == 3 && parts[0] == string(KindEditor):
		if err := checkApp(parts[1]); err != nil {
			return "", err
		}
		if parts[2] == newInstance {
			return s, nil
		}
		i, err := strconv.Atoi(parts[2])
		if err != nil || i < 0 || i >= constants.MaxInstancesPerScope {
			return "", fmt.Errorf("navigation: bad instance index in %q", raw)
		}
		return s, nil
	}
	return "", fmt.Errorf("navigation: unknown section %q", raw)
}

func checkApp(app string) error {
	if !validate.Ident(app) {
		return fmt.Errorf("navigation: invalid application name %q", app)
	}
	if _, ok := constants.ApplicationScopeSet[app]; !ok {
		return fmt.Errorf("navigation: unknown application %q", app)
	}
	return nil
}

// Kind returns the section family.
func (s Section) Kind() Kind {
	head, _, _ := strings.Cut(string(s), ":")
	return Kind(head)
}

// App returns the application of an app or editor section.
func (s Section) App() string {
	parts := strings.Split(string(s), ":")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}

// Index returns the instance index of an editor section. ok is false for
// other sections and for the new-instance editor.
func (s Section) Index() (int, bool) {
	parts := strings.Split(string(s), ":")
	if len(parts) != 3 || parts[0] != string(KindEditor) {
		return 0, false
	}
	i, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, false
	}
	return i, true
}

func (s Section) String() string { return string(s) }
