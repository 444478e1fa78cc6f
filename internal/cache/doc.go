// Package cache 实现按缓存键寻址的磁盘图片缓存：键被映射为
// StoragePath/http/cache_<编码后的键> 文件。写入统一经过临时文件 + rename，
// 只有完整写入的文件才会出现在最终路径上；目录总体积与条目数由 LRU 索引约束。
// fetcher 依赖本包判断命中、落盘下载结果，而不自行操作文件系统。
package cache
