package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"savingsd/models"
	"savingsd/pkg/aggregate"
	"savingsd/pkg/period"
	"savingsd/pkg/queue"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	passcodeRE = regexp.MustCompile(`^\d{6}$`)
	currencyRE = regexp.MustCompile(`^[A-Z]{3}$`)
)

var validThemes = map[string]bool{"system": true, "light": true, "dark": true}

func setupRoutes(r *gin.Engine) {
	r.POST("/register", registerHandler)
	r.POST("/login", loginHandler)
	r.POST("/refresh", refreshHandler)
	r.POST("/revoke_refresh", revokeRefreshHandler)
	authGroup := r.Group("")
	authGroup.Use(jwtAuthMiddleware())
	authGroup.GET("/me", meHandler)
	authGroup.POST("/profile", createProfileHandler)
	authGroup.GET("/profile", getProfileHandler)
	authGroup.POST("/transactions", createTransactionHandler)
	authGroup.GET("/transactions", listTransactionsHandler)
	authGroup.GET("/transactions/:id", getTransactionHandler)
	authGroup.PUT("/transactions/:id", updateTransactionHandler)
	authGroup.DELETE("/transactions/:id", deleteTransactionHandler)
	authGroup.PUT("/savings/:date", upsertSavingsHandler)
	authGroup.GET("/savings", listSavingsHandler)
	authGroup.GET("/settings", getSettingsHandler)
	authGroup.PUT("/settings", putSettingsHandler)
	authGroup.GET("/summary/:kind", summaryHandler)
	authGroup.GET("/progress", progressHandler)
	authGroup.GET("/sync/status", syncStatusHandler)
	authGroup.POST("/sync/flush", syncFlushHandler)
}

func jwtAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			c.Abort()
			return
		}
		tokenString := authHeader[7:]
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrInvalidKeyType
			}
			return jwtSecret, nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			c.Abort()
			return
		}
		username, _ := claims["username"].(string)
		role, _ := claims["role"].(string)
		c.Set("username", username)
		if role != "" {
			c.Set("role", role)
		}
		// jwt numbers decode as float64
		if uid, ok := claims["user_id"].(float64); ok && uid > 0 {
			c.Set("user_id", uint(uid))
		}
		c.Next()
	}
}

func meHandler(c *gin.Context) {
	usernameVal, _ := c.Get("username")
	if usernameVal == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "context missing username"})
		return
	}
	username := usernameVal.(string)
	c.JSON(http.StatusOK, gin.H{"username": username})
}

// getUserFromContext returns the currently authenticated user from the claims
// set by jwtAuthMiddleware. The id travels in the token so identity resolution
// never needs the remote store; handlers keep working while it is unreachable.
func getUserFromContext(c *gin.Context) (*models.User, bool) {
	unameVal, _ := c.Get("username")
	if unameVal == nil {
		return nil, false
	}
	uname := unameVal.(string)
	if idVal, ok := c.Get("user_id"); ok {
		return &models.User{ID: idVal.(uint), Username: uname}, true
	}
	// tokens minted before the id claim existed
	var user models.User
	if err := db.Where("username = ?", uname).First(&user).Error; err != nil {
		return nil, false
	}
	return &user, true
}

// createTransactionHandler records a deposit or withdrawal. When the remote
// store is unreachable the write is buffered in the offline queue and made
// visible through the local mirror.
func createTransactionHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var req struct {
		Amount      decimal.Decimal `json:"amount"`
		Type        string          `json:"type" binding:"required"`
		Date        string          `json:"date"` // optional ISO date, defaults to today
		Description string          `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !models.ValidType(req.Type) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be deposit or withdrawal"})
		return
	}
	if !req.Amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		return
	}
	d := period.Today()
	if req.Date != "" {
		var err error
		if d, err = period.Parse(req.Date); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	tx := models.Transaction{
		UserID:      user.ID,
		Amount:      req.Amount,
		Type:        req.Type,
		Date:        d.Time(),
		Description: req.Description,
	}

	if syncer.Online() {
		if err := db.Create(&tx).Error; err == nil {
			cache.InvalidateUser(user.ID)
			c.JSON(http.StatusOK, gin.H{"id": tx.ID})
			return
		} else {
			syncer.markOffline(err)
		}
	}
	if err := opQueue.Enqueue(queue.OpCreate, queue.TableTransactions, tx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue write"})
		return
	}
	if err := local.AddLocalTransaction(tx); err != nil {
		log.Printf("failed to mirror queued transaction: %v", err)
	}
	cache.InvalidateUser(user.ID)
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

// listTransactionsHandler lists transactions. With from/to it serves the
// merged (remote or mirror) range; without, recent rows (admin sees all).
func listTransactionsHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	fromStr, toStr := c.Query("from"), c.Query("to")
	if fromStr != "" || toStr != "" {
		r, err := parseRange(fromStr, toStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		txs, err := loadTransactions(user.ID, r)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		c.JSON(http.StatusOK, txs)
		return
	}

	role, _ := c.Get("role")
	if syncer.Online() {
		var items []models.Transaction
		q := db.Model(&models.Transaction{}).Where("deleted = ?", false)
		if role != "administrator" {
			q = q.Where("user_id = ?", user.ID)
		}
		if err := q.Order("id desc").Limit(200).Find(&items).Error; err == nil {
			c.JSON(http.StatusOK, items)
			return
		} else {
			syncer.markOffline(err)
		}
	}
	txs, err := local.TransactionsInRange(user.ID, period.New(1970, 1, 1).Time(), period.Today().Add(1).Time())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, txs)
}

func parseRange(fromStr, toStr string) (period.Range, error) {
	if fromStr == "" || toStr == "" {
		return period.Range{}, fmt.Errorf("both from and to are required")
	}
	from, err := period.Parse(fromStr)
	if err != nil {
		return period.Range{}, err
	}
	to, err := period.Parse(toStr)
	if err != nil {
		return period.Range{}, err
	}
	if to.Before(from) {
		return period.Range{}, fmt.Errorf("to %s is before from %s", to, from)
	}
	return period.Range{From: from, To: to}, nil
}

func getTransactionHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if syncer.Online() {
		var tx models.Transaction
		err := db.Where("id = ? AND user_id = ? AND deleted = ?", id, user.ID, false).First(&tx).Error
		if err == nil {
			c.JSON(http.StatusOK, tx)
			return
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		syncer.markOffline(err)
	}
	tx, found, err := local.MirroredTransaction(user.ID, uint(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if !found || tx.Deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, tx)
}

func updateTransactionHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req struct {
		Amount      *decimal.Decimal `json:"amount"`
		Type        *string          `json:"type"`
		Date        *string          `json:"date"`
		Description *string          `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// load the current row, from the remote store or the mirror
	var tx models.Transaction
	if syncer.Online() {
		if err := db.Where("id = ? AND user_id = ?", id, user.ID).First(&tx).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
	} else {
		found := false
		tx, found, err = local.MirroredTransaction(user.ID, uint(id))
		if err != nil || !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
	}

	if req.Amount != nil {
		if !req.Amount.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
			return
		}
		tx.Amount = *req.Amount
	}
	if req.Type != nil {
		if !models.ValidType(*req.Type) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "type must be deposit or withdrawal"})
			return
		}
		tx.Type = *req.Type
	}
	if req.Date != nil {
		d, err := period.Parse(*req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tx.Date = d.Time()
	}
	if req.Description != nil {
		tx.Description = *req.Description
	}

	if syncer.Online() {
		if err := db.Save(&tx).Error; err == nil {
			cache.InvalidateUser(user.ID)
			c.JSON(http.StatusOK, tx)
			return
		} else {
			syncer.markOffline(err)
		}
	}
	if err := opQueue.Enqueue(queue.OpUpdate, queue.TableTransactions, tx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue write"})
		return
	}
	if err := local.UpdateMirroredTransaction(tx); err != nil {
		log.Printf("failed to update mirrored transaction: %v", err)
	}
	cache.InvalidateUser(user.ID)
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

// deleteTransactionHandler soft-deletes: the row keeps existing with its
// Deleted flag set so offline clients can reconcile.
func deleteTransactionHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if syncer.Online() {
		res := db.Model(&models.Transaction{}).Where("id = ? AND user_id = ?", id, user.ID).Update("deleted", true)
		if res.Error == nil {
			if res.RowsAffected == 0 {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			cache.InvalidateUser(user.ID)
			c.JSON(http.StatusOK, gin.H{"deleted": true})
			return
		}
		syncer.markOffline(res.Error)
	}
	payload := gin.H{"id": uint(id), "user_id": user.ID}
	if err := opQueue.Enqueue(queue.OpDelete, queue.TableTransactions, payload); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue write"})
		return
	}
	if tx, found, _ := local.MirroredTransaction(user.ID, uint(id)); found {
		tx.Deleted = true
		if err := local.UpdateMirroredTransaction(tx); err != nil {
			log.Printf("failed to mark mirrored transaction deleted: %v", err)
		}
	}
	cache.InvalidateUser(user.ID)
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

// upsertSavingsHandler writes the legacy one-row-per-day record, keyed by
// (user, date).
func upsertSavingsHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	d, err := period.Parse(c.Param("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
		Saved  bool            `json:"saved"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Saved && !req.Amount.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive when marked saved"})
		return
	}
	if req.Amount.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must not be negative"})
		return
	}
	rec := models.SavingsRecord{UserID: user.ID, Date: d.Time(), Amount: req.Amount, Saved: req.Saved}

	if syncer.Online() {
		var existing models.SavingsRecord
		err := db.Where("user_id = ? AND date = ?", user.ID, rec.Date).First(&existing).Error
		if err == nil {
			err = db.Model(&existing).Updates(map[string]any{"amount": rec.Amount, "saved": rec.Saved}).Error
			rec.ID = existing.ID
		} else {
			err = db.Create(&rec).Error
		}
		if err == nil {
			cache.InvalidateUser(user.ID)
			c.JSON(http.StatusOK, gin.H{"id": rec.ID})
			return
		}
		syncer.markOffline(err)
	}
	if err := opQueue.Enqueue(queue.OpUpdate, queue.TableSavingsRecords, rec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue write"})
		return
	}
	cache.InvalidateUser(user.ID)
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

func listSavingsHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	r, err := parseRange(c.Query("from"), c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !syncer.Online() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "offline"})
		return
	}
	var recs []models.SavingsRecord
	err = db.Where("user_id = ? AND date >= ? AND date <= ?", user.ID, r.From.Time(), r.To.Time()).
		Order("date asc").Find(&recs).Error
	if err != nil {
		syncer.markOffline(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "offline"})
		return
	}
	c.JSON(http.StatusOK, recs)
}

// loadSettings returns the user's settings: remote when online (creating the
// default row on first read), the local snapshot when offline, built-in
// defaults as a last resort.
func loadSettings(userID uint) models.UserSettings {
	if syncer.Online() {
		var s models.UserSettings
		err := db.Where("user_id = ?", userID).First(&s).Error
		if err == nil {
			snapshotSettings(s)
			return s
		}
		s = *defaultSettings(userID)
		if err := db.Create(&s).Error; err == nil {
			snapshotSettings(s)
			return s
		} else {
			syncer.markOffline(err)
		}
	}
	if raw, ok, _ := local.Get(settingsKey(userID)); ok {
		var s models.UserSettings
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			return s
		}
	}
	return *defaultSettings(userID)
}

func settingsKey(userID uint) string { return fmt.Sprintf("settings:%d", userID) }

func snapshotSettings(s models.UserSettings) {
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := local.Set(settingsKey(s.UserID), string(b)); err != nil {
		log.Printf("failed to snapshot settings: %v", err)
	}
}

func getSettingsHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, loadSettings(user.ID))
}

func putSettingsHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var req struct {
		Currency   string          `json:"currency" binding:"required"`
		DailyGoal  decimal.Decimal `json:"daily_goal"`
		WeeklyGoal decimal.Decimal `json:"weekly_goal"`
		Theme      string          `json:"theme" binding:"required"`
		WeekStart  string          `json:"week_start" binding:"required"`
		Passcode   string          `json:"passcode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !currencyRE.MatchString(req.Currency) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "currency must be a 3-letter code"})
		return
	}
	if !validThemes[req.Theme] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "theme must be system, light or dark"})
		return
	}
	if _, err := period.ParseWeekStart(req.WeekStart); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Passcode != "" && !passcodeRE.MatchString(req.Passcode) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "passcode must be exactly 6 digits"})
		return
	}
	if req.DailyGoal.IsNegative() || req.WeeklyGoal.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "goals must not be negative"})
		return
	}
	settings := models.UserSettings{
		UserID:     user.ID,
		Currency:   req.Currency,
		DailyGoal:  req.DailyGoal,
		WeeklyGoal: req.WeeklyGoal,
		Theme:      req.Theme,
		WeekStart:  req.WeekStart,
		Passcode:   req.Passcode,
	}

	if syncer.Online() {
		var existing models.UserSettings
		err := db.Where("user_id = ?", user.ID).First(&existing).Error
		if err == nil {
			settings.ID = existing.ID
			settings.CreatedAt = existing.CreatedAt
			err = db.Save(&settings).Error
		} else {
			err = db.Create(&settings).Error
		}
		if err == nil {
			snapshotSettings(settings)
			cache.InvalidateUser(user.ID)
			c.JSON(http.StatusOK, settings)
			return
		}
		syncer.markOffline(err)
	}
	if err := opQueue.Enqueue(queue.OpUpdate, queue.TableUserSettings, settings); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue write"})
		return
	}
	snapshotSettings(settings)
	cache.InvalidateUser(user.ID)
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

// summaryHandler serves the day/week/month aggregates backing the calendar
// and dashboard views, through the TTL cache.
func summaryHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	kind, err := period.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d := period.Today()
	if v := c.Query("date"); v != "" {
		if d, err = period.Parse(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	r := rangeFor(user.ID, kind, d)
	sum, err := cachedSummary(user.ID, kind, r)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"period": kind.String(), "from": r.From, "to": r.To, "summary": sum})
}

// rangeFor resolves the period range honoring the user's week-start setting.
func rangeFor(userID uint, kind period.Kind, d period.Date) period.Range {
	ws, err := period.ParseWeekStart(loadSettings(userID).WeekStart)
	if err != nil {
		ws = time.Sunday
	}
	return period.Of(kind, d, ws)
}

func cachedSummary(userID uint, kind period.Kind, r period.Range) (aggregate.Summary, error) {
	key := aggregate.Key{UserID: userID, Kind: kind, Start: r.From}
	return cache.Summary(key, func() (aggregate.Summary, error) {
		txs, err := loadTransactions(userID, r)
		if err != nil {
			return aggregate.Zero(), err
		}
		return aggregate.Summarize(txs, r), nil
	})
}

// progressHandler reports today's and this week's net amounts against the
// configured goal amounts.
func progressHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	settings := loadSettings(user.ID)
	today := period.Today()

	daySum, err := cachedSummary(user.ID, period.Day, rangeFor(user.ID, period.Day, today))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	weekSum, err := cachedSummary(user.ID, period.Week, rangeFor(user.ID, period.Week, today))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"currency":      settings.Currency,
		"daily_goal":    settings.DailyGoal,
		"weekly_goal":   settings.WeeklyGoal,
		"day":           daySum,
		"week":          weekSum,
		"day_progress":  progressPct(daySum.Net, settings.DailyGoal),
		"week_progress": progressPct(weekSum.Net, settings.WeeklyGoal),
	})
}

// progressPct returns net/goal as a percentage rounded to one decimal, zero
// when no goal is set.
func progressPct(net, goal decimal.Decimal) decimal.Decimal {
	if !goal.IsPositive() {
		return decimal.Zero
	}
	return net.Div(goal).Mul(decimal.NewFromInt(100)).Round(1)
}

func syncStatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, syncer.Status())
}

func syncFlushHandler(c *gin.Context) {
	n, err := syncer.Flush(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "replayed": n})
		return
	}
	pending, _ := opQueue.Pending()
	c.JSON(http.StatusOK, gin.H{"replayed": n, "pending": pending})
}

func registerHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := Register(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user registered successfully"})
}

func createProfileHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var req struct {
		DisplayName string `json:"display_name" binding:"required"`
		Email       string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	profile := models.Profile{UserID: user.ID, DisplayName: req.DisplayName, Email: req.Email}
	if err := db.Create(&profile).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": profile.ID})
}

func getProfileHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var p models.Profile
	if err := db.Where("user_id = ?", user.ID).First(&p).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func loginHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := Login(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	// Generate JWT token. Resolve role name from RoleID (we only store role_id now).
	roleName := ""
	if user.RoleID != nil {
		var r models.Role
		if err := db.First(&r, *user.RoleID).Error; err == nil {
			roleName = r.Name
		}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": user.Username,
		"user_id":  user.ID,
		"role":     roleName,
		"exp":      time.Now().Add(time.Hour * 24).Unix(),
	})
	tokenString, err := token.SignedString(jwtSecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	// create refresh token
	refreshToken, err := createAndStoreRefreshToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "login successful", "token": tokenString, "refresh_token": refreshToken})
}

// createAndStoreRefreshToken generates a random refresh token, stores its hash with expiry and returns the raw token string
func createAndStoreRefreshToken(userID uint) (string, error) {
	// generate random 32-byte token (hex)
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	// hash for storage
	h := sha256.Sum256([]byte(token))
	th := hex.EncodeToString(h[:])
	rt := models.RefreshToken{UserID: userID, TokenHash: th, ExpiresAt: time.Now().Add(30 * 24 * time.Hour)}
	if err := db.Create(&rt).Error; err != nil {
		return "", err
	}
	return token, nil
}

// helper to find refresh token record by raw token string
func findRefreshTokenByRaw(token string) (*models.RefreshToken, error) {
	h := sha256.Sum256([]byte(token))
	th := hex.EncodeToString(h[:])
	var rt models.RefreshToken
	if err := db.Where("token_hash = ?", th).First(&rt).Error; err != nil {
		return nil, err
	}
	return &rt, nil
}

// refreshHandler exchanges a refresh token for a new access token and rotates the refresh token
func refreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := findRefreshTokenByRaw(req.RefreshToken)
	if err != nil || rt.Revoked || time.Now().After(rt.ExpiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}
	// load user
	var user models.User
	if err := db.First(&user, rt.UserID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	// create access token
	roleName := ""
	if user.RoleID != nil {
		var r models.Role
		if err := db.First(&r, *user.RoleID).Error; err == nil {
			roleName = r.Name
		}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": user.Username,
		"user_id":  user.ID,
		"role":     roleName,
		"exp":      time.Now().Add(15 * time.Minute).Unix(),
	})
	tokenString, err := token.SignedString(jwtSecret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	// rotate refresh token: revoke existing and create new one
	db.Model(&models.RefreshToken{}).Where("id = ?", rt.ID).Update("revoked", true)
	newRT, err := createAndStoreRefreshToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rotate refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tokenString, "refresh_token": newRT})
}

// revokeRefreshHandler revokes a given refresh token (useful on logout)
func revokeRefreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := findRefreshTokenByRaw(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "refresh token not found"})
		return
	}
	rt.Revoked = true
	if err := db.Save(rt).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "refresh token revoked"})
}
