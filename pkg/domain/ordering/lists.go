package ordering

import (
	"fmt"
	"sort"
	"strings"

	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
)

// MaxLists is the number of named lists a key area may hold.
const MaxLists = 10

// ListIndices returns the named list indices of area in ascending order.
func ListIndices(area tracking.KeyArea) []int {
	idx := make([]int, 0, len(area.ListNames))
	for i := range area.ListNames {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// ListName returns the display name of a list, falling back to "List N".
func ListName(area tracking.KeyArea, index int) string {
	if name, ok := area.ListNames[index]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("List %d", index)
}

func lockedDefault(area tracking.KeyArea) error {
	return &tracking.GuardViolation{
		Rule:   "default-key-area-lists",
		Ref:    area.Ref(),
		Detail: "the default key area has no user lists",
	}
}

func checkIndex(index int) error {
	if index < 1 || index > MaxLists {
		return &tracking.ValidationError{Field: "list_index", Reason: fmt.Sprintf("must be between 1 and %d", MaxLists)}
	}
	return nil
}

// AddList appends a list named name (or "List N" when empty) at the lowest
// free index.
func AddList(area tracking.KeyArea, name string) (tracking.KeyArea, int, error) {
	if area.IsDefault {
		return area, 0, lockedDefault(area)
	}
	if len(area.ListNames) >= MaxLists {
		return area, 0, &tracking.CapacityError{Resource: "list", Limit: MaxLists}
	}

	index := 0
	for i := 1; i <= MaxLists; i++ {
		if _, taken := area.ListNames[i]; !taken {
			index = i
			break
		}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("List %d", index)
	}
	if err := checkDuplicate(area, index, name); err != nil {
		return area, 0, err
	}

	out := area.Clone()
	if out.ListNames == nil {
		out.ListNames = make(map[int]string)
	}
	out.ListNames[index] = name
	return out, index, nil
}

// RenameList gives a list a new name. Renaming to the empty name deletes the
// list, which requires it to be empty.
func RenameList(area tracking.KeyArea, index int, name string, taskCount int) (tracking.KeyArea, error) {
	if area.IsDefault {
		return area, lockedDefault(area)
	}
	if err := checkIndex(index); err != nil {
		return area, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return DeleteList(area, index, taskCount)
	}
	if err := checkDuplicate(area, index, name); err != nil {
		return area, err
	}

	out := area.Clone()
	if out.ListNames == nil {
		out.ListNames = make(map[int]string)
	}
	out.ListNames[index] = name
	return out, nil
}

// DeleteList removes a list that no task references.
func DeleteList(area tracking.KeyArea, index int, taskCount int) (tracking.KeyArea, error) {
	if area.IsDefault {
		return area, lockedDefault(area)
	}
	if err := checkIndex(index); err != nil {
		return area, err
	}
	if taskCount > 0 {
		return area, &tracking.GuardViolation{
			Rule:   "list-has-tasks",
			Ref:    area.Ref(),
			Detail: fmt.Sprintf("list %d still holds %d task(s)", index, taskCount),
		}
	}
	if _, ok := area.ListNames[index]; !ok {
		return area, &tracking.ValidationError{Field: "list_index", Reason: fmt.Sprintf("no list at index %d", index)}
	}

	out := area.Clone()
	delete(out.ListNames, index)
	return out, nil
}

func checkDuplicate(area tracking.KeyArea, index int, name string) error {
	for i, existing := range area.ListNames {
		if i != index && strings.EqualFold(strings.TrimSpace(existing), name) {
			return &tracking.GuardViolation{
				Rule:   "duplicate-list-name",
				Ref:    area.Ref(),
				Detail: fmt.Sprintf("list %d is already named %q", i, existing),
			}
		}
	}
	return nil
}
