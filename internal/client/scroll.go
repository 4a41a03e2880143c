package client

// ShouldAutoScroll reports whether new content should scroll the view
// to the latest message. distanceFromBottom is measured before the new
// content is inserted, so a user reading history is never yanked down.
func ShouldAutoScroll(distanceFromBottom int) bool {
	return distanceFromBottom <= NearBottomPx
}

// ShouldLoadMore reports whether the scroll position warrants fetching
// an older page. The fetch itself is still guarded by LoadMore's
// in-flight check.
func ShouldLoadMore(distanceFromTop int, state State, more bool) bool {
	return distanceFromTop <= NearTopPx && state == StateLoaded && more
}
