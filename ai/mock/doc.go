// Package mock provides a test double implementation of ai.Extractor.
//
// MockExtractor lets tests run without external AI services and gives
// controlled, deterministic behavior for retry and failure scenarios.
//
// # Usage in Tests
//
//	// Basic usage with default behavior
//	extractor := mock.NewMockExtractor()
//	extraction, err := extractor.Extract(ctx, "Ford Focus Wiper Set")
//
//	// Custom behavior injection
//	extractor := mock.NewMockExtractor().
//	    WithExtractFunc(func(ctx context.Context, title string) (*core.Extraction, error) {
//	        return nil, ai.Transient("rate limited", ai.ErrRateLimited)
//	    })
//
//	// Check call counts
//	count := extractor.CallCount()
//	perTitle := extractor.CallsFor("Ford Focus Wiper Set")
//
// # Default Behavior
//
// The first word of the title becomes the brand, the second the model and
// the rest the category. Titles with fewer than three words produce an
// empty fitment list.
package mock
