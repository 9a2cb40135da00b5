package bad

import (
	"context"

	"docrepo/pkg/dispatch"
	"docrepo/pkg/domain"
)

type Widget struct {
	domain.Base
}

type Widgets struct {
	dispatch.Proxy[*Widget]
	Count    func(ctx context.Context) (int, error)                   `query:""`
	NoCtx    func(x int) ([]*Widget, error)                           `query:"x = ?"`
	OneOut   func(ctx context.Context) error                          `query:""`
	BadNull  func(ctx context.Context) ([]*Widget, error)             `query:"" nullable:"true"`
	BadTag   func(ctx context.Context) (*Widget, error)               `query:"" nullable:"maybe"`
	Save     func(ctx context.Context, w *Widget) (*Widget, error)    `query:""`
	Untagged func(ctx context.Context) ([]*Widget, error)
}
