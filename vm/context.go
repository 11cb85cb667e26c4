package vm

// context is one call frame: the caller state to restore on return, the
// frame's own base pointer, and the static-link chain used to resolve
// non-local variable addresses (loada) and nested calls.
type context struct {
	prevIP uint32
	prevSP uint32
	prevBP uint32
	bp     uint32

	staticLink    int // index into Machine.contexts
	functionIndex int // -1 for the root __START__ frame
	functionName  string
	functionLevel uint16
}

// rootContext builds the frame the interpreter starts in before the
// start block's appended "snew main.paramSize; call mainIndex" runs.
func rootContext() context {
	return context{
		functionIndex: -1,
		functionName:  "__START__",
		functionLevel: 0,
	}
}

// resolveStaticLink computes the staticLink index a new frame for a
// function at newLevel should carry, given the caller's own level and
// static-link chain. It implements the nested-procedure addressing rule:
// a call one level deeper links to the caller directly; a call at the
// same or a shallower level walks up the caller's own chain; a call more
// than one level deeper is not a valid control transfer.
func resolveStaticLink(contexts []context, newLevel uint16) (int, error) {
	cur := contexts[len(contexts)-1]
	curLevel := int(cur.functionLevel)
	nl := int(newLevel)

	if nl == curLevel+1 {
		return len(contexts) - 1, nil
	}
	if nl <= curLevel {
		link := cur.staticLink
		for ; curLevel > nl; curLevel-- {
			link = contexts[link].staticLink
		}
		return link, nil
	}
	return 0, InvalidControlTransfer{}
}
