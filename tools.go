//go:build tools

package tools

// Tool dependencies are not tracked here with blank imports. mockery is
// used as an installed binary; pkg/discovery/mocks holds its output for the
// Advertiser interface. Regenerate with:
//
//	mockery --name Advertiser --dir pkg/discovery --output pkg/discovery/mocks --with-expecter
