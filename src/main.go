package main

import (
	"log"
	"net/http"
	"os"
	"time"
	"turnos/src/common"
	"turnos/src/db"
	"turnos/src/lib"
	"turnos/src/middlewares"
	"turnos/src/models"
	"turnos/src/types"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v4"
	_ "github.com/joho/godotenv/autoload"
)

var jwtKey = []byte(os.Getenv("JWT_SECRET"))

const (
	apiPrefix string = "/api/v1"
)

func apiv1Group(g *gin.Engine) *gin.RouterGroup {
	return g.Group(apiPrefix)
}

// currencyCodeValidatorFunc accepts a three-letter uppercase currency code.
var currencyCodeValidatorFunc validator.Func = func(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	if len(v) != 3 {
		return false
	}
	for _, c := range v {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

func setupRouter() *gin.Engine {
	r := gin.Default()
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("currencycode", currencyCodeValidatorFunc)
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	r.GET("/", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func generateJWT(username, tenantID string) (string, error) {
	expirationTime := time.Now().Add(24 * time.Hour)
	claims := &types.Claims{
		Username: username,
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(expirationTime),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtKey)
}

func migrate() {
	d := db.GetDb()
	if err := d.AutoMigrate(
		&models.Tenant{},
		&models.PaymentConfig{},
		&models.Customer{},
		&models.Appointment{},
		&models.Payment{},
		&models.Plan{},
		&models.Subscription{},
		&models.NotificationLog{},
	); err != nil {
		log.Fatalf("error migration: %s", err.Error())
	}
}

func main() {
	migrate()

	g := setupRouter()
	mpWebhookRoute(g)

	apiv1 := apiv1Group(g)
	apiv1.Use(middlewares.AuthMiddleware)
	appointmentHandlers(apiv1)
	subscriptionHandlers(apiv1)

	common.RegisterSweeps()
	if sched, err := lib.GetScheduler(); err == nil {
		sched.Start()
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := g.Run(":" + port); err != nil {
		log.Fatalf("server error: %s", err.Error())
	}
}
