package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/DennisKoslow/ProxyDesk/app/controllers"
	"github.com/DennisKoslow/ProxyDesk/internal/pkg/middleware"
)

type ApiRouter struct {
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "ok",
		})
	})

	v1 := api.Group("/v1")

	v1.Post("/auth/register", controllers.HandleAPIRegister)
	v1.Post("/auth/login", controllers.HandleAPILogin)

	v1.Post("/checkout", middleware.RequireAuth, controllers.HandleAPICheckout)

	v1.Get("/wallet", middleware.RequireAuth, controllers.HandleWalletBalance)
	v1.Post("/wallet/topup", middleware.RequireAuth, controllers.HandleWalletTopup)
	v1.Post("/wallet/topup/confirm", middleware.RequireAuth, controllers.HandleWalletTopupConfirm)

	v1.Post("/admin/orders/:id/reprovision", middleware.RequireAdmin, controllers.HandleAdminReprovision)
}
