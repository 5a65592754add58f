package fuseadapter

import "time"

// nowFunc is a variable so it can be swapped out in tests.
var nowFunc = time.Now
