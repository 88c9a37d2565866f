package usercontext

// localsKey is the fiber Locals slot the resolved user context lives under.
const localsKey = "USER_CONTEXT"
