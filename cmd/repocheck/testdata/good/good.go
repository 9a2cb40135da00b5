package good

import (
	"context"

	"docrepo/pkg/dispatch"
	"docrepo/pkg/domain"
)

type Widget struct {
	domain.Base
	X int `json:"x"`
}

type Widgets struct {
	dispatch.Proxy[*Widget]
	Below    func(ctx context.Context, x int) ([]*Widget, error)                `query:"x < ?"`
	First    func(ctx context.Context, x int) (*Widget, error)                  `query:"x = ?" nullable:"true"`
	Opt      func(ctx context.Context, x int) (domain.Optional[*Widget], error) `query:"x = ?"`
	Distinct func(ctx context.Context) (domain.Set[*Widget], error)             `query:""`

	helper int
}

// NotARepository has func fields but no proxy and is ignored.
type NotARepository struct {
	Run func() int
}
