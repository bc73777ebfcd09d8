package allocator

import "errors"

// errShrink is returned by Grow when asked to shrink a FreeMap;
// shrinking would require deciding what to do with blocks that are
// occupied beyond the new boundary, which this allocator does not
// define.
var errShrink = errors.New("allocator: cannot grow to a smaller block count")
