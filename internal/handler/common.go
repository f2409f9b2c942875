// Package handler contains the HTTP handlers of the piece marketplace.
// Identity is external: middleware verifies the bearer token and stores the
// subject and role in the Echo context; helpers here read them back.
package handler

import (
	"errors"

	"github.com/labstack/echo/v4"
)

// Role values carried in the JWT "role" claim.
const (
	RoleCustomer = "CUSTOMER" // a buyer reserving and purchasing pieces
	RoleCheckout = "CHECKOUT" // the payment/checkout service finalizing sales
)

var errNoUser = errors.New("no authenticated user in context")

// callerID returns the authenticated user's id from the context, as stored
// by the JWT middleware.
func callerID(c echo.Context) (string, error) {
	if v, ok := c.Get("user_id").(string); ok && v != "" {
		return v, nil
	}
	return "", errNoUser
}

// callerRole returns the caller's role claim, or the empty string.
func callerRole(c echo.Context) string {
	if v, ok := c.Get("role").(string); ok {
		return v
	}
	return ""
}
