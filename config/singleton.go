package config

import "sync"

var (
	_instance     ConfigManager
	_instanceLock sync.Mutex
)

// GetInstance returns the process wide ConfigManager, creating it on first use.
func GetInstance() ConfigManager {
	_instanceLock.Lock()
	defer _instanceLock.Unlock()

	if _instance == nil {
		_instance = NewConfigManager()
	}
	return _instance
}

// SetInstanceForTesting swaps the process wide ConfigManager.
func SetInstanceForTesting(cm ConfigManager) {
	_instanceLock.Lock()
	defer _instanceLock.Unlock()
	_instance = cm
}

// ResetInstance closes and drops the process wide ConfigManager.
func ResetInstance() {
	_instanceLock.Lock()
	defer _instanceLock.Unlock()

	if _instance != nil {
		_ = _instance.Close()
	}
	_instance = nil
}
