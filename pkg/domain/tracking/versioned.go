package tracking

// VersionOf returns the server version of e, or 0 for an unknown entity type.
func VersionOf(e Entity) int {
	switch v := e.(type) {
	case Goal:
		return v.Version
	case Milestone:
		return v.Version
	case KeyArea:
		return v.Version
	case Task:
		return v.Version
	case Activity:
		return v.Version
	}
	return 0
}

// WithVersion returns a copy of e carrying version.
func WithVersion(e Entity, version int) Entity {
	switch v := e.(type) {
	case Goal:
		v.Version = version
		return v
	case Milestone:
		v.Version = version
		return v
	case KeyArea:
		v = v.Clone()
		v.Version = version
		return v
	case Task:
		v.Version = version
		return v
	case Activity:
		v.Version = version
		return v
	}
	return e
}

// WithID returns a copy of e carrying id.
func WithID(e Entity, id string) Entity {
	switch v := e.(type) {
	case Goal:
		v.ID = id
		return v
	case Milestone:
		v.ID = id
		return v
	case KeyArea:
		v = v.Clone()
		v.ID = id
		return v
	case Task:
		v.ID = id
		return v
	case Activity:
		v.ID = id
		return v
	}
	return e
}

// DelegationOf returns the delegation of a task or activity.
func DelegationOf(e Entity) (Delegation, bool) {
	switch v := e.(type) {
	case Task:
		return v.Delegation, true
	case Activity:
		return v.Delegation, true
	}
	return Delegation{}, false
}
