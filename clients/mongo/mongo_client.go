package mongo_client

import (
	"context"
	"os"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var (
	Client *mongo.Client
)

func init() {
	// init runs before main installs the global logger; build one locally so
	// the startup notices are not dropped by zap's no-op default.
	logger, _ := zap.NewProduction()

	mongoURI := os.Getenv("MONGO_URI")
	if mongoURI == "" {
		logger.Warn("MONGO_URI not set, metrics tables will not be mirrored to MongoDB")
		return
	}

	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(mongoURI).SetServerAPIOptions(serverAPI)

	// Create a new client and connect to the server
	var err error // This is to ensure Client is not redeclared in the local scope
	Client, err = mongo.Connect(context.TODO(), opts)
	if err != nil {
		logger.Error("MongoDB initialization failed: ", zap.Any("error", err.Error()))
		Client = nil
		return
	}

	// Send a ping to confirm a successful connection
	pingCmd := bson.M{"ping": 1}
	if err := Client.Database("admin").RunCommand(context.TODO(), pingCmd).Err(); err != nil {
		logger.Error("MongoDB ping failed: ", zap.Any("error", err.Error()))
		Client = nil
		return
	}

	logger.Info("Connected to MongoDB")
}
