// Package ordering keeps the position invariants of key areas and the list
// layout inside each key area.
package ordering

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
)

const (
	// MaxKeyAreas is the number of non-default key areas a user may own.
	MaxKeyAreas = 9
	// DefaultPosition is the fixed position of the default key area.
	DefaultPosition = 10
)

// NewDefaultKeyArea builds the locked "Ideas" key area.
func NewDefaultKeyArea(id string) tracking.KeyArea {
	return tracking.KeyArea{
		ID:        id,
		Title:     tracking.DefaultKeyAreaTitle,
		Position:  DefaultPosition,
		IsDefault: true,
	}
}

// Sorted returns copies of areas ordered by position, default last.
func Sorted(areas []tracking.KeyArea) []tracking.KeyArea {
	out := make([]tracking.KeyArea, 0, len(areas))
	for _, a := range areas {
		out = append(out, a.Clone())
	}
	slices.SortStableFunc(out, func(a, b tracking.KeyArea) int {
		if a.IsDefault != b.IsDefault {
			if a.IsDefault {
				return 1
			}
			return -1
		}
		if a.Position != b.Position {
			return a.Position - b.Position
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func splitDefault(areas []tracking.KeyArea) (rest []tracking.KeyArea, def *tracking.KeyArea) {
	for _, a := range Sorted(areas) {
		if a.IsDefault {
			d := a
			def = &d
			continue
		}
		rest = append(rest, a)
	}
	return rest, def
}

func indexOf(areas []tracking.KeyArea, id string) int {
	return slices.IndexFunc(areas, func(a tracking.KeyArea) bool { return a.ID == id })
}

func find(areas []tracking.KeyArea, id string) (tracking.KeyArea, bool) {
	if i := indexOf(areas, id); i >= 0 {
		return areas[i], true
	}
	return tracking.KeyArea{}, false
}

// ReorderKeyAreas moves the dragged key area into the target's slot. Moving
// down places it after the target, moving up places it before. The returned
// slice holds every non-default area with positions renumbered 1..N; the
// default area is never part of it.
func ReorderKeyAreas(areas []tracking.KeyArea, draggedID, targetID string) ([]tracking.KeyArea, error) {
	for _, id := range []string{draggedID, targetID} {
		a, ok := find(areas, id)
		if !ok {
			return nil, &tracking.NotFoundError{Ref: tracking.Ref{Kind: tracking.KindKeyArea, ID: id}}
		}
		if a.IsDefault {
			return nil, &tracking.GuardViolation{
				Rule:   "default-key-area-locked",
				Ref:    a.Ref(),
				Detail: "the default key area cannot be reordered",
			}
		}
	}

	rest, _ := splitDefault(areas)
	from := indexOf(rest, draggedID)
	to := indexOf(rest, targetID)

	moved := rest[from]
	rest = slices.Delete(rest, from, from+1)
	rest = slices.Insert(rest, to, moved)
	return Renumber(rest), nil
}

// Renumber assigns positions 1..N in slice order.
func Renumber(areas []tracking.KeyArea) []tracking.KeyArea {
	for i := range areas {
		areas[i].Position = i + 1
	}
	return areas
}

// Compact renumbers the non-default areas 1..N keeping their relative order.
// Use it after a removal.
func Compact(areas []tracking.KeyArea) []tracking.KeyArea {
	rest, _ := splitDefault(areas)
	return Renumber(rest)
}

// PlanNewKeyArea validates a new key area title and returns the position it
// should take.
func PlanNewKeyArea(areas []tracking.KeyArea, title string) (int, error) {
	if strings.TrimSpace(title) == "" {
		return 0, &tracking.ValidationError{Field: "title", Reason: "title is required"}
	}
	if tracking.IsDefaultTitle(title) {
		return 0, &tracking.GuardViolation{
			Rule:   "reserved-title",
			Ref:    tracking.Ref{Kind: tracking.KindKeyArea},
			Detail: fmt.Sprintf("%q is reserved for the default key area", tracking.DefaultKeyAreaTitle),
		}
	}
	rest, _ := splitDefault(areas)
	if len(rest) >= MaxKeyAreas {
		return 0, &tracking.CapacityError{Resource: "key_area", Limit: MaxKeyAreas}
	}
	return len(rest) + 1, nil
}

// CheckRename rejects renaming the default area or taking its reserved title.
func CheckRename(area tracking.KeyArea, title string) error {
	if area.IsDefault {
		if strings.TrimSpace(title) == area.Title {
			return nil
		}
		return &tracking.GuardViolation{
			Rule:   "default-key-area-locked",
			Ref:    area.Ref(),
			Detail: "the default key area cannot be renamed",
		}
	}
	if strings.TrimSpace(title) == "" {
		return &tracking.ValidationError{Field: "title", Reason: "title is required"}
	}
	if tracking.IsDefaultTitle(title) {
		return &tracking.GuardViolation{
			Rule:   "reserved-title",
			Ref:    area.Ref(),
			Detail: fmt.Sprintf("%q is reserved for the default key area", tracking.DefaultKeyAreaTitle),
		}
	}
	return nil
}

// CheckDelete rejects deleting the default area or an area that still holds tasks.
func CheckDelete(area tracking.KeyArea, taskCount int) error {
	if area.IsDefault {
		return &tracking.GuardViolation{
			Rule:   "default-key-area-locked",
			Ref:    area.Ref(),
			Detail: "the default key area cannot be deleted",
		}
	}
	if taskCount > 0 {
		return &tracking.GuardViolation{
			Rule:   "key-area-has-tasks",
			Ref:    area.Ref(),
			Detail: fmt.Sprintf("%d task(s) still reference this key area", taskCount),
		}
	}
	return nil
}

// CheckInvariants reports every violation of the key area layout rules.
func CheckInvariants(areas []tracking.KeyArea) error {
	var errs []error
	defaults := 0
	for _, a := range areas {
		if !a.IsDefault {
			continue
		}
		defaults++
		if !tracking.IsDefaultTitle(a.Title) {
			errs = append(errs, fmt.Errorf("default key area %s has title %q", a.ID, a.Title))
		}
		if a.Position != DefaultPosition {
			errs = append(errs, fmt.Errorf("default key area %s at position %d", a.ID, a.Position))
		}
	}
	if defaults != 1 {
		errs = append(errs, fmt.Errorf("expected exactly one default key area, found %d", defaults))
	}

	rest, _ := splitDefault(areas)
	if len(rest) > MaxKeyAreas {
		errs = append(errs, fmt.Errorf("%d key areas exceed the limit of %d", len(rest), MaxKeyAreas))
	}
	for i, a := range rest {
		if a.Position != i+1 {
			errs = append(errs, fmt.Errorf("key area %s at position %d, expected %d", a.ID, a.Position, i+1))
		}
	}
	return errors.Join(errs...)
}
