package util

// 报名数据存储介质
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreDatabase = "database"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// EnrollmentCollection 报名集合在键值存储中的固定集合名
const EnrollmentCollection = "enrolledCourses"
