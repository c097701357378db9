// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds database/back-end dependencies for the app.
type DBDeps struct {
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database
	Redis         redis.UniversalClient // nil when redis_addr is blank

	// rt is allocated by ConnectDB and filled in by Startup so BuildHandler
	// and Shutdown see the same services and workers.
	rt *runtime
}
