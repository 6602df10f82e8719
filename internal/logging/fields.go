package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 hash_part/route/命中状态字段，供请求处理日志复用。
func RequestFields(route, hashPart, upstream string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"route":     route,
		"hash_part": hashPart,
		"upstream":  upstream,
		"cache_hit": cacheHit,
	}
}

// FetchFields 描述单次上游探测的结果，供 Pull-Through Fetcher 使用。
func FetchFields(hashPart, upstream, stage string, err error) logrus.Fields {
	fields := logrus.Fields{
		"hash_part": hashPart,
		"upstream":  upstream,
		"stage":     stage,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	return fields
}
