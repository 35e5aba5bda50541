package core

type Screen string

const (
	ScreenAuth        Screen = "auth"
	ScreenVerify      Screen = "verify"
	ScreenMain        Screen = "main"
	ScreenSettingsHub Screen = "settingsHub"
	ScreenEditProfile Screen = "editProfile"
	ScreenSecurity    Screen = "security"
	ScreenEmail       Screen = "email"
	ScreenAppearance  Screen = "appearance"
	ScreenLegal       Screen = "legal"
	ScreenSupport     Screen = "support"
	ScreenMyListings  Screen = "myListings"
	ScreenOrders      Screen = "orders"
	ScreenReviews     Screen = "reviews"
)

type Tab string

const (
	TabMarket  Tab = "market"
	TabSell    Tab = "sell"
	TabChat    Tab = "chat"
	TabProfile Tab = "profile"
)

func (t Tab) Valid() bool {
	switch t {
	case TabMarket, TabSell, TabChat, TabProfile:
		return true
	}
	return false
}

// NavigationState is the single slot of the screen machine. Params belong
// to Screen only and are dropped on every transition.
type NavigationState struct {
	Screen Screen            `json:"screen"`
	Params map[string]string `json:"params,omitempty"`
}

func (n NavigationState) Param(key string) string {
	return n.Params[key]
}

// Route is the subtree chosen by the session gate.
type Route string

const (
	RouteLoading Route = "loading"
	RouteAuth    Route = "auth"
	RouteVerify  Route = "verify"
	RouteMain    Route = "main"
)
