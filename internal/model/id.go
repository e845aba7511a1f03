package model

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

type IDType string

const (
	IDTypeExecution    IDType = "exec"
	IDTypeEvent        IDType = "evt"
	IDTypeSubscription IDType = "sub"
	IDTypeWorkflow     IDType = "wf"
	IDTypeDeadLetter   IDType = "dlq"
)

var validIDTypes = map[IDType]bool{
	IDTypeExecution:    true,
	IDTypeEvent:        true,
	IDTypeSubscription: true,
	IDTypeWorkflow:     true,
	IDTypeDeadLetter:   true,
}

var idRegex = regexp.MustCompile(`^(exec|evt|sub|wf|dlq)_[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// NewID returns a prefixed, globally-unique identifier such as
// exec_4f6b1c1e-....
func NewID(idType IDType) string {
	return fmt.Sprintf("%s_%s", idType, uuid.NewString())
}

func ValidateID(id string) bool {
	return idRegex.MatchString(id)
}

func ParseIDType(id string) (IDType, error) {
	if !ValidateID(id) {
		return "", fmt.Errorf("invalid ID format: %s", id)
	}
	match := idRegex.FindStringSubmatch(id)
	it := IDType(match[1])
	if !validIDTypes[it] {
		return "", fmt.Errorf("invalid ID type: %s", it)
	}
	return it, nil
}
