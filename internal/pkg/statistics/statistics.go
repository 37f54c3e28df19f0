package statistics

import (
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/venuekey/venuekey/app/models"
	"github.com/venuekey/venuekey/internal/pkg/cache"
	"github.com/venuekey/venuekey/internal/pkg/database"
)

const (
	CacheKeyRequestsTotal = "statistics:requests:total"
	CacheKeyRequestsDaily = "statistics:requests:daily:%s" // Format with date YYYY-MM-DD
	CacheKeyUsers         = "statistics:users:total"
	CacheKeyKeysSpent     = "statistics:keys:spent"
	CacheExpiration       = 30 * time.Minute
)

// StatisticsData holds the cached platform totals.
type StatisticsData struct {
	TodayRequests int `json:"today_requests"`
	TotalRequests int `json:"total_requests"`
	TotalUsers    int `json:"total_users"`
	KeysSpent     int `json:"keys_spent"`
}

var (
	lastCacheUpdate     time.Time
	cacheUpdateMutex    sync.Mutex
	cacheUpdateInterval = 5 * time.Minute
)

// ShouldUpdateCache checks whether the cache is stale.
func ShouldUpdateCache() bool {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	return time.Since(lastCacheUpdate) > cacheUpdateInterval
}

// UpdateCacheIfNeeded refreshes the cached totals when they are stale.
func UpdateCacheIfNeeded() {
	if ShouldUpdateCache() {
		cacheUpdateMutex.Lock()
		defer cacheUpdateMutex.Unlock()

		if err := UpdateStatisticsCache(); err != nil {
			log.Printf("Failed to update statistics cache: %v", err)
		} else {
			lastCacheUpdate = time.Now()
		}
	}
}

// ResetCacheUpdateTimer forces the next UpdateCacheIfNeeded to refresh.
func ResetCacheUpdateTimer() {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	lastCacheUpdate = time.Time{}
}

// UpdateStatisticsCache recomputes all platform totals and stores them in the cache.
func UpdateStatisticsCache() error {
	db := database.GetDB()

	var totalRequests int64
	if err := db.Model(&models.Request{}).Count(&totalRequests).Error; err != nil {
		log.Printf("Error counting total requests: %v", err)
		return err
	}

	var todayRequests int64
	today := time.Now().Format("2006-01-02")
	todayStart, _ := time.Parse("2006-01-02", today)
	todayEnd := todayStart.Add(24 * time.Hour)

	if err := db.Model(&models.Request{}).Where("created_at BETWEEN ? AND ?", todayStart, todayEnd).Count(&todayRequests).Error; err != nil {
		log.Printf("Error counting today's requests: %v", err)
		return err
	}

	var totalUsers int64
	if err := db.Model(&models.User{}).Count(&totalUsers).Error; err != nil {
		log.Printf("Error counting total users: %v", err)
		return err
	}

	var keysSpent int64
	if err := db.Model(&models.KeyUsageRecord{}).Select("COALESCE(SUM(keys_spent), 0)").Row().Scan(&keysSpent); err != nil {
		log.Printf("Error summing spent keys: %v", err)
		return err
	}

	if err := cache.Set(CacheKeyRequestsTotal, strconv.FormatInt(totalRequests, 10), CacheExpiration); err != nil {
		return err
	}
	dailyKey := fmt.Sprintf(CacheKeyRequestsDaily, today)
	if err := cache.Set(dailyKey, strconv.FormatInt(todayRequests, 10), CacheExpiration); err != nil {
		return err
	}
	if err := cache.Set(CacheKeyUsers, strconv.FormatInt(totalUsers, 10), CacheExpiration); err != nil {
		return err
	}
	if err := cache.Set(CacheKeyKeysSpent, strconv.FormatInt(keysSpent, 10), CacheExpiration); err != nil {
		return err
	}

	log.Printf("Statistics updated in cache: Total Requests: %d, Today's Requests: %d, Total Users: %d, Keys Spent: %d",
		totalRequests, todayRequests, totalUsers, keysSpent)

	return nil
}

// GetStatistics returns all cached totals, refreshing the cache when stale.
func GetStatistics() StatisticsData {
	UpdateCacheIfNeeded()

	return StatisticsData{
		TodayRequests: getCachedInt(todayKey()),
		TotalRequests: getCachedInt(CacheKeyRequestsTotal),
		TotalUsers:    getCachedInt(CacheKeyUsers),
		KeysSpent:     getCachedInt(CacheKeyKeysSpent),
	}
}

func todayKey() string {
	return fmt.Sprintf(CacheKeyRequestsDaily, time.Now().Format("2006-01-02"))
}

func getCachedInt(key string) int {
	val, err := cache.Get(key)
	if err != nil {
		return 0
	}
	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}
	return int(count)
}
