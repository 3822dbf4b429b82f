// Copyright (c) DriftGuard Authors.
// Licensed under the MIT License.

/*
包 database 提供基于 GORM 的数据库连接与连接池管理，供学习账本的 SQL 存储后端使用。

# 核心类型

  - PoolManager：持有 GORM DB 实例与底层 sql.DB，提供 DB()、Ping()、
    Stats()、Close() 以及事务执行方法。
  - PoolConfig：最大空闲连接数、最大打开连接数与连接最大生命周期。

# 主要能力

  - Open：按驱动（postgres / mysql / sqlite）选择方言并建立连接；
    sqlite 使用纯 Go 的 glebarez/sqlite，无需 CGO。
  - WithTransactionRetry：死锁、序列化失败、sqlite 忙等可重试错误按
    指数退避重试。
*/
package database
