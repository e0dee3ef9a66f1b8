package coupon

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Coupon is a lifetime-deal redemption code. It starts out unused, gets
// claimed by a user (user id and used at set), and may later be expired by
// an admin batch action. A user's effective LTD plan is a pure function of
// their count of redeemed, non-expired coupons.
type Coupon struct {
	ID        uuid.UUID     `db:"id"`
	Code      string        `db:"code"`
	UserID    uuid.NullUUID `db:"user_id"`
	CreatedAt time.Time     `db:"created_at"`
	UsedAt    sql.NullTime  `db:"used_at"`
	Expired   bool          `db:"expired"`
}
